package payment

import (
	"fmt"
	"sort"
	"sync"

	"khoaugment/internal/models"
)

// Registry maps payment methods to their gateways.
type Registry struct {
	mu       sync.RWMutex
	gateways map[models.PaymentMethod]Gateway
}

func NewRegistry() *Registry {
	return &Registry{gateways: make(map[models.PaymentMethod]Gateway)}
}

// Register binds a gateway to one or more methods. A later call replaces an
// earlier binding.
func (r *Registry) Register(gw Gateway, methods ...models.PaymentMethod) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range methods {
		r.gateways[m] = gw
	}
}

// For returns the gateway for method.
func (r *Registry) For(method models.PaymentMethod) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.gateways[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	return gw, nil
}

// Methods lists the registered methods, sorted.
func (r *Registry) Methods() []models.PaymentMethod {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.PaymentMethod, 0, len(r.gateways))
	for m := range r.gateways {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
