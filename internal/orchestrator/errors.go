package orchestrator

import "errors"

var (
	ErrUnknownIntent       = errors.New("outcome does not match any intent")
	ErrSignatureInvalid    = errors.New("outcome signature is invalid")
	ErrAlreadyTerminal     = errors.New("intent is already terminal")
	ErrAmountMismatch      = errors.New("confirmed amount differs from intent amount")
	ErrNotInitiated        = errors.New("intent was never sent to the provider")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderAmountMismatch = errors.New("amount differs from order total")
	ErrOrderAlreadyPaid    = errors.New("order is already paid")
	ErrIntentNotFound      = errors.New("intent not found")
	ErrIntentExpired       = errors.New("intent has expired")
	ErrNotManual           = errors.New("method is settled by its provider, not by an operator")
	ErrConcurrentUpdate    = errors.New("intent changed concurrently, retries exhausted")
	ErrProviderUnavailable = errors.New("provider status query failed")
)

// errConflict signals a lost compare-and-set inside a transaction.
var errConflict = errors.New("status compare-and-set lost")
