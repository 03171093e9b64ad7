package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"khoaugment/internal/models"
	"khoaugment/internal/orchestrator"
	"khoaugment/internal/payment"
)

const maxCallbackBody = 64 << 10

// Orchestrator is what callbacks need from the payment state machine.
type Orchestrator interface {
	ApplyOutcome(ctx context.Context, out *models.PaymentOutcome) (*orchestrator.ApplyResult, error)
	Intent(ctx context.Context, intentID string) (*models.PaymentIntent, error)
}

// CallbackRecorder counts callbacks by provider and acknowledgement.
type CallbackRecorder interface {
	Callback(provider, result string)
}

// PaymentCallbackHandler handles gateway callbacks.
type PaymentCallbackHandler struct {
	gateways *payment.Registry
	orch     Orchestrator
	recorder CallbackRecorder
	logger   *zap.Logger
}

// NewPaymentCallbackHandler creates a new payment callback handler. recorder
// may be nil.
func NewPaymentCallbackHandler(gateways *payment.Registry, orch Orchestrator, recorder CallbackRecorder, logger *zap.Logger) *PaymentCallbackHandler {
	return &PaymentCallbackHandler{
		gateways: gateways,
		orch:     orch,
		recorder: recorder,
		logger:   logger.Named("callback"),
	}
}

// ── VNPay ────────────────────────────────────────────────────────────

// VNPayCallback handles the IPN. VNPay sends it as a GET query string; a
// form POST is accepted too.
func (h *PaymentCallbackHandler) VNPayCallback(c echo.Context) error {
	raw := []byte(c.Request().URL.RawQuery)
	if c.Request().Method == http.MethodPost {
		body, err := readBody(c)
		if err != nil {
			return h.unreadable(c, models.MethodVNPay, err)
		}
		if len(body) > 0 {
			raw = body
		}
	}
	return h.handle(c, models.MethodVNPay, raw)
}

// VNPayReturn reports the result to the browser coming back from VNPay.
// It never changes the intent; the IPN does that.
func (h *PaymentCallbackHandler) VNPayReturn(c echo.Context) error {
	gw, err := h.gateways.For(models.MethodVNPay)
	if err != nil {
		return c.JSON(http.StatusNotFound, models.APIResponse{Status: false, Msg: "VNPay is not enabled"})
	}

	ctx := c.Request().Context()
	out := gw.ParseCallback(ctx, []byte(c.Request().URL.RawQuery))
	if !out.RawSignatureValid {
		return c.JSON(http.StatusOK, models.APIResponse{Status: false, Msg: "Invalid signature"})
	}

	obj := map[string]interface{}{
		"order_id":        out.OrderID,
		"provider_result": out.Result,
		"code":            out.Code,
		"amount":          out.AmountConfirmed,
	}
	if out.IntentID != "" {
		if intent, err := h.orch.Intent(ctx, out.IntentID); err == nil {
			obj["intent_id"] = intent.ID
			obj["status"] = intent.Status
		}
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Msg: "Successful", Obj: obj})
}

// ── MoMo ─────────────────────────────────────────────────────────────

func (h *PaymentCallbackHandler) MoMoCallback(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return h.unreadable(c, models.MethodMoMo, err)
	}
	return h.handle(c, models.MethodMoMo, body)
}

// ── ZaloPay ──────────────────────────────────────────────────────────

func (h *PaymentCallbackHandler) ZaloPayCallback(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return h.unreadable(c, models.MethodZaloPay, err)
	}
	return h.handle(c, models.MethodZaloPay, body)
}

// ── Shared ───────────────────────────────────────────────────────────

func (h *PaymentCallbackHandler) handle(c echo.Context, method models.PaymentMethod, raw []byte) error {
	gw, err := h.gateways.For(method)
	if err != nil {
		return c.JSON(http.StatusNotFound, models.APIResponse{Status: false, Msg: "Gateway is not enabled"})
	}

	ctx := c.Request().Context()
	out := gw.ParseCallback(ctx, raw)
	_, err = h.orch.ApplyOutcome(ctx, out)
	status := ackFor(err)

	fields := []zap.Field{
		zap.String("provider", gw.Name()),
		zap.String("provider_ref", out.ProviderRef),
		zap.String("result", string(out.Result)),
		zap.String("ack", ackLabel(status)),
	}
	switch status {
	case payment.AckOK:
		h.logger.Info("callback applied", fields...)
	case payment.AckRetry:
		h.logger.Error("callback not applied", append(fields, zap.Error(err))...)
	default:
		h.logger.Warn("callback acknowledged without change", append(fields, zap.Error(err))...)
	}

	h.count(gw.Name(), status)
	return c.JSON(http.StatusOK, gw.Ack(status))
}

func (h *PaymentCallbackHandler) unreadable(c echo.Context, method models.PaymentMethod, err error) error {
	h.logger.Warn("callback body unreadable", zap.String("provider", string(method)), zap.Error(err))
	gw, gerr := h.gateways.For(method)
	if gerr != nil {
		return c.JSON(http.StatusNotFound, models.APIResponse{Status: false, Msg: "Gateway is not enabled"})
	}
	h.count(gw.Name(), payment.AckRetry)
	return c.JSON(http.StatusOK, gw.Ack(payment.AckRetry))
}

func (h *PaymentCallbackHandler) count(provider string, status payment.AckStatus) {
	if h.recorder != nil {
		h.recorder.Callback(provider, ackLabel(status))
	}
}

// ackFor maps an ApplyOutcome error to the acknowledgement sent back. Only
// unexpected failures ask the provider to retry.
func ackFor(err error) payment.AckStatus {
	switch {
	case err == nil, errors.Is(err, orchestrator.ErrNotInitiated):
		return payment.AckOK
	case errors.Is(err, orchestrator.ErrSignatureInvalid):
		return payment.AckInvalidSignature
	case errors.Is(err, orchestrator.ErrUnknownIntent):
		return payment.AckUnknownIntent
	case errors.Is(err, orchestrator.ErrAlreadyTerminal):
		return payment.AckAlreadyConfirmed
	case errors.Is(err, orchestrator.ErrAmountMismatch):
		return payment.AckAmountMismatch
	}
	return payment.AckRetry
}

func ackLabel(status payment.AckStatus) string {
	switch status {
	case payment.AckOK:
		return "ok"
	case payment.AckInvalidSignature:
		return "invalid_signature"
	case payment.AckUnknownIntent:
		return "unknown_intent"
	case payment.AckAlreadyConfirmed:
		return "already_confirmed"
	case payment.AckAmountMismatch:
		return "amount_mismatch"
	}
	return "retry"
}

func readBody(c echo.Context) ([]byte, error) {
	return io.ReadAll(io.LimitReader(c.Request().Body, maxCallbackBody))
}
