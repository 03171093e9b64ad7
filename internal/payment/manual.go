package payment

import (
	"context"

	"khoaugment/internal/models"
)

// ManualGateway covers methods settled at the counter (cash, card terminal,
// bank transfer). Completion is confirmed by an operator, never by callback.
type ManualGateway struct {
	method models.PaymentMethod
}

func NewManualGateway(method models.PaymentMethod) *ManualGateway {
	return &ManualGateway{method: method}
}

func (g *ManualGateway) Name() string {
	return string(g.method)
}

func (g *ManualGateway) BuildRedirect(_ context.Context, intent *models.PaymentIntent) (*RedirectResult, error) {
	return &RedirectResult{ProviderRef: intent.ID}, nil
}

func (g *ManualGateway) ParseCallback(_ context.Context, _ []byte) *models.PaymentOutcome {
	return &models.PaymentOutcome{Provider: g.Name(), Result: models.ResultUnknown, Cause: models.CauseCallback}
}

func (g *ManualGateway) VerifyStatus(_ context.Context, intent *models.PaymentIntent) (*models.PaymentOutcome, error) {
	return &models.PaymentOutcome{
		IntentID:          intent.ID,
		ProviderRef:       intent.ProviderRef,
		OrderID:           intent.OrderID,
		Provider:          g.Name(),
		Result:            models.ResultUnknown,
		RawSignatureValid: true,
		Cause:             models.CauseVerifyPoll,
	}, nil
}

func (g *ManualGateway) Ack(AckStatus) interface{} {
	return map[string]string{"status": "ignored"}
}
