package api

import (
	"errors"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"khoaugment/internal/models"
	"khoaugment/internal/orchestrator"
	"khoaugment/internal/payment"
	"khoaugment/internal/pkg/lock"
)

// PaymentHandler handles all payment API actions.
type PaymentHandler struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

func NewPaymentHandler(orch *orchestrator.Orchestrator, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{orch: orch, logger: logger.Named("api")}
}

// Handle routes payment API requests.
// POST /api/payments
func (h *PaymentHandler) Handle(c echo.Context) error {
	action, body, err := parseBodyAction(c)
	if err != nil {
		return errorResponse(c, "Invalid request body")
	}

	switch action {
	case "pay":
		return h.pay(c, body)
	case "verify":
		return h.verify(c, body)
	case "cancel":
		return h.cancel(c, body)
	case "confirm":
		return h.confirm(c, body)
	case "history":
		return h.history(c, body)
	case "anomalies":
		return h.anomalies(c, body)
	case "intent":
		return h.intent(c, body)
	case "payments":
		return h.listPayments(c, body)
	default:
		return errorResponse(c, "Unknown action: "+action)
	}
}

func (h *PaymentHandler) pay(c echo.Context, body []byte) error {
	var req models.PayRequest
	if err := decodeBody(body, &req); err != nil {
		return errorResponse(c, "Invalid request body")
	}
	if req.OrderID == "" || req.Method == "" {
		return errorResponse(c, "order_id and method are required")
	}

	ctx := c.Request().Context()
	intent, err := h.orch.CreateIntent(ctx, req.OrderID, req.Amount, req.Method)
	if err != nil {
		return h.fail(c, "pay", err)
	}
	res, err := h.orch.Initiate(ctx, intent.ID)
	if err != nil {
		return h.fail(c, "pay", err)
	}

	return successResponse(c, "Successful", map[string]interface{}{
		"intent_id":    res.Intent.ID,
		"order_id":     res.Intent.OrderID,
		"method":       res.Intent.Method,
		"amount":       res.Intent.Amount,
		"status":       res.Intent.Status,
		"expires_at":   res.Intent.ExpiresAt,
		"redirect_url": res.Redirect.URL,
		"qr_payload":   res.Redirect.QRPayload,
		"provider_ref": res.Redirect.ProviderRef,
	})
}

func (h *PaymentHandler) verify(c echo.Context, body []byte) error {
	var req models.VerifyRequest
	if err := decodeBody(body, &req); err != nil {
		return errorResponse(c, "Invalid request body")
	}
	if req.OrderID == "" || req.Method == "" {
		return errorResponse(c, "order_id and method are required")
	}

	res, err := h.orch.Verify(c.Request().Context(), req.OrderID, req.Method, req.Poll)
	if err != nil {
		return h.fail(c, "verify", err)
	}
	return successResponse(c, "Successful", map[string]interface{}{
		"intent_id":   res.Intent.ID,
		"status":      res.Intent.Status,
		"resolved_at": res.Intent.ResolvedAt,
		"polled":      res.Polled,
	})
}

func (h *PaymentHandler) cancel(c echo.Context, body []byte) error {
	var req models.CancelRequest
	if err := decodeBody(body, &req); err != nil || req.IntentID == "" {
		return errorResponse(c, "intent_id is required")
	}

	intent, err := h.orch.Cancel(c.Request().Context(), req.IntentID, req.Reason)
	if err != nil {
		return h.fail(c, "cancel", err)
	}
	return successResponse(c, "Successful", intent)
}

func (h *PaymentHandler) confirm(c echo.Context, body []byte) error {
	var req models.ConfirmRequest
	if err := decodeBody(body, &req); err != nil || req.IntentID == "" {
		return errorResponse(c, "intent_id is required")
	}

	res, err := h.orch.ConfirmManual(c.Request().Context(), req.IntentID, req.Amount, req.Note)
	if err != nil {
		return h.fail(c, "confirm", err)
	}
	return successResponse(c, "Successful", res)
}

func (h *PaymentHandler) history(c echo.Context, body []byte) error {
	var req models.HistoryRequest
	if err := decodeBody(body, &req); err != nil {
		return errorResponse(c, "Invalid request body")
	}

	ctx := c.Request().Context()
	var (
		entries []models.LedgerEntry
		err     error
	)
	switch {
	case req.IntentID != "":
		entries, err = h.orch.History(ctx, req.IntentID)
	case req.OrderID != "":
		entries, err = h.orch.OrderHistory(ctx, req.OrderID)
	default:
		return errorResponse(c, "intent_id or order_id is required")
	}
	if err != nil {
		return h.fail(c, "history", err)
	}
	return successResponse(c, "Successful", entries)
}

func (h *PaymentHandler) anomalies(c echo.Context, body []byte) error {
	var req models.AnomaliesListRequest
	if err := decodeBody(body, &req); err != nil {
		return errorResponse(c, "Invalid request body")
	}
	limit, page := normalizePage(req.Limit, req.Page)

	entries, total, err := h.orch.Anomalies(c.Request().Context(), limit, page)
	if err != nil {
		return h.fail(c, "anomalies", err)
	}
	return successResponse(c, "Successful", paginatedNamedResponse("anomalies", entries, total, page, limit))
}

func (h *PaymentHandler) intent(c echo.Context, body []byte) error {
	var req models.IntentDetailRequest
	if err := decodeBody(body, &req); err != nil || req.IntentID == "" {
		return errorResponse(c, "intent_id is required")
	}

	intent, err := h.orch.Intent(c.Request().Context(), req.IntentID)
	if err != nil {
		return h.fail(c, "intent", err)
	}
	return successResponse(c, "Successful", intent)
}

func (h *PaymentHandler) listPayments(c echo.Context, body []byte) error {
	var req models.PaymentsListRequest
	if err := decodeBody(body, &req); err != nil {
		return errorResponse(c, "Invalid request body")
	}
	limit, page := normalizePage(req.Limit, req.Page)

	intents, total, err := h.orch.Intents(c.Request().Context(), limit, page, req.Q)
	if err != nil {
		return h.fail(c, "payments", err)
	}
	return successResponse(c, "Successful", paginatedNamedResponse("payments", intents, total, page, limit))
}

// fail maps domain errors to client messages and logs everything else.
func (h *PaymentHandler) fail(c echo.Context, action string, err error) error {
	var cfgErr *payment.AdapterConfigError
	switch {
	case errors.As(err, &cfgErr):
		return errorResponse(c, "Payment method is not configured")
	case errors.Is(err, payment.ErrUnsupportedMethod):
		return errorResponse(c, "Unsupported payment method")
	case errors.Is(err, orchestrator.ErrInvalidAmount):
		return errorResponse(c, "Amount must be positive")
	case errors.Is(err, orchestrator.ErrOrderNotFound):
		return errorResponse(c, "Order not found")
	case errors.Is(err, orchestrator.ErrOrderAmountMismatch):
		return errorResponse(c, "Amount does not match order total")
	case errors.Is(err, orchestrator.ErrOrderAlreadyPaid):
		return errorResponse(c, "Order is already paid")
	case errors.Is(err, orchestrator.ErrIntentNotFound):
		return errorResponse(c, "Payment not found")
	case errors.Is(err, orchestrator.ErrIntentExpired):
		return errorResponse(c, "Payment has expired")
	case errors.Is(err, orchestrator.ErrAlreadyTerminal):
		return errorResponse(c, "Payment is already closed")
	case errors.Is(err, orchestrator.ErrNotManual):
		return errorResponse(c, "Payment method is confirmed by its provider")
	case errors.Is(err, orchestrator.ErrAmountMismatch):
		return errorResponse(c, "Confirmed amount does not match")
	case errors.Is(err, orchestrator.ErrProviderUnavailable):
		h.logger.Warn("provider unavailable", zap.String("action", action), zap.Error(err))
		return errorResponse(c, "Payment provider is unavailable, try again")
	case errors.Is(err, lock.ErrLockTimeout), errors.Is(err, orchestrator.ErrConcurrentUpdate):
		return errorResponse(c, "Payment is busy, try again")
	}
	h.logger.Error("payment action failed", zap.String("action", action), zap.Error(err))
	return errorResponse(c, "Internal error")
}
