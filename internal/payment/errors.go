package payment

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedMethod is returned for a method with no registered gateway.
	ErrUnsupportedMethod = errors.New("unsupported payment method")
	// ErrProviderRejected wraps a create/query request the provider refused.
	ErrProviderRejected = errors.New("provider rejected request")
	// ErrMalformedResponse is returned when a provider answer cannot be decoded.
	ErrMalformedResponse = errors.New("malformed provider response")
)

// AdapterConfigError reports provider credentials that are not configured.
type AdapterConfigError struct {
	Provider string
	Missing  []string
}

func (e *AdapterConfigError) Error() string {
	return fmt.Sprintf("%s is not configured: missing %s", e.Provider, strings.Join(e.Missing, ", "))
}

// IsConfigError reports whether err is (or wraps) an AdapterConfigError.
func IsConfigError(err error) bool {
	var cfgErr *AdapterConfigError
	return errors.As(err, &cfgErr)
}

func requireCredentials(provider string, fields ...[2]string) error {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f[1]) == "" {
			missing = append(missing, f[0])
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &AdapterConfigError{Provider: provider, Missing: missing}
}

func rejected(provider, code, msg string) error {
	return fmt.Errorf("%s: %w: code=%s message=%s", provider, ErrProviderRejected, code, msg)
}
