package payment

import (
	"context"

	"khoaugment/internal/models"
)

// RedirectResult is what a customer needs to complete an online payment.
type RedirectResult struct {
	URL         string `json:"url,omitempty"`
	QRPayload   string `json:"qr_payload,omitempty"`
	ProviderRef string `json:"provider_ref"`
}

// AckStatus is the processing result a callback acknowledgement reports back
// to the provider.
type AckStatus int

const (
	AckOK AckStatus = iota
	AckInvalidSignature
	AckUnknownIntent
	AckAlreadyConfirmed
	AckAmountMismatch
	// AckRetry asks the provider to deliver the callback again.
	AckRetry
)

// Gateway defines the interface for payment gateway implementations.
type Gateway interface {
	// Name returns the gateway identifier.
	Name() string

	// BuildRedirect registers the intent with the provider (or builds the
	// signed URL locally) and returns where to send the customer.
	BuildRedirect(ctx context.Context, intent *models.PaymentIntent) (*RedirectResult, error)

	// ParseCallback turns a raw callback into an outcome. It never fails:
	// unparseable input yields Result=unknown and RawSignatureValid=false.
	ParseCallback(ctx context.Context, raw []byte) *models.PaymentOutcome

	// VerifyStatus asks the provider for the current status of the intent.
	// Network errors are returned as-is; the adapter does not retry.
	VerifyStatus(ctx context.Context, intent *models.PaymentIntent) (*models.PaymentOutcome, error)

	// Ack returns the body the provider expects in reply to a callback.
	Ack(status AckStatus) interface{}
}
