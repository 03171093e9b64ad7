package models

import "time"

// CurrencyVND is the only currency the POS settles in.
const CurrencyVND = "VND"

// PaymentMethod identifies how an order is paid.
type PaymentMethod string

const (
	MethodVNPay        PaymentMethod = "vnpay"
	MethodMoMo         PaymentMethod = "momo"
	MethodZaloPay      PaymentMethod = "zalopay"
	MethodCash         PaymentMethod = "cash"
	MethodCard         PaymentMethod = "card"
	MethodBankTransfer PaymentMethod = "bank_transfer"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodVNPay, MethodMoMo, MethodZaloPay, MethodCash, MethodCard, MethodBankTransfer:
		return true
	}
	return false
}

// Online reports whether m settles through an external gateway.
func (m PaymentMethod) Online() bool {
	return m == MethodVNPay || m == MethodMoMo || m == MethodZaloPay
}

// IntentStatus is a state of the payment intent state machine.
type IntentStatus string

const (
	StatusCreated          IntentStatus = "created"
	StatusRedirected       IntentStatus = "redirected"
	StatusAwaitingCallback IntentStatus = "awaiting_callback"
	StatusSucceeded        IntentStatus = "succeeded"
	StatusFailed           IntentStatus = "failed"
	StatusExpired          IntentStatus = "expired"
	StatusCancelled        IntentStatus = "cancelled"
)

// NonTerminalStatuses lists the statuses an intent can still leave.
var NonTerminalStatuses = []IntentStatus{StatusCreated, StatusRedirected, StatusAwaitingCallback}

// Terminal reports whether no further transition is accepted from s.
func (s IntentStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// PaymentIntent maps to the `payment_intents` table. One row is one attempt
// to pay one order with one method.
type PaymentIntent struct {
	ID            string        `gorm:"column:id;primaryKey;size:36" json:"intent_id"`
	OrderID       string        `gorm:"column:order_id;size:64;index:idx_payment_intents_order_method,priority:1" json:"order_id"`
	Method        PaymentMethod `gorm:"column:method;size:32;index:idx_payment_intents_order_method,priority:2" json:"method"`
	Amount        int64         `gorm:"column:amount;not null" json:"amount"`
	Currency      string        `gorm:"column:currency;size:8;not null" json:"currency"`
	Status        IntentStatus  `gorm:"column:status;size:32;index:idx_payment_intents_status_expires,priority:1" json:"status"`
	ProviderRef   string        `gorm:"column:provider_ref;size:128;index" json:"provider_ref,omitempty"`
	ProviderTxnID string        `gorm:"column:provider_txn_id;size:128" json:"provider_txn_id,omitempty"`
	RedirectURL   string        `gorm:"column:redirect_url;type:text" json:"redirect_url,omitempty"`
	QRPayload     string        `gorm:"column:qr_payload;type:text" json:"qr_payload,omitempty"`
	// ActiveKey holds "orderID|method" while the intent is non-terminal and
	// NULL afterwards; its unique index allows one open intent per pair.
	ActiveKey  *string    `gorm:"column:active_key;size:128;uniqueIndex" json:"-"`
	CreatedAt  time.Time  `gorm:"column:created_at;index" json:"created_at"`
	ExpiresAt  time.Time  `gorm:"column:expires_at;index:idx_payment_intents_status_expires,priority:2" json:"expires_at"`
	ResolvedAt *time.Time `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (PaymentIntent) TableName() string {
	return "payment_intents"
}

// ActiveKeyFor builds the uniqueness key for an open intent.
func ActiveKeyFor(orderID string, method PaymentMethod) string {
	return orderID + "|" + string(method)
}

// PaymentResult classifies a provider-reported outcome.
type PaymentResult string

const (
	ResultSuccess PaymentResult = "success"
	ResultFailure PaymentResult = "failure"
	ResultUnknown PaymentResult = "unknown"
)

// PaymentOutcome is the provider-agnostic result parsed from a callback or a
// status query. At least one of IntentID and ProviderRef identifies the intent.
type PaymentOutcome struct {
	IntentID          string        `json:"intent_id,omitempty"`
	ProviderRef       string        `json:"provider_ref,omitempty"`
	OrderID           string        `json:"order_id,omitempty"`
	Provider          string        `json:"provider"`
	ProviderTxnID     string        `json:"provider_txn_id,omitempty"`
	Result            PaymentResult `json:"result"`
	RawSignatureValid bool          `json:"raw_signature_valid"`
	AmountConfirmed   int64         `json:"amount_confirmed"`
	Code              string        `json:"code,omitempty"`
	Message           string        `json:"message,omitempty"`
	Cause             LedgerCause   `json:"cause"`
	ReceivedAt        time.Time     `json:"received_at"`
}
