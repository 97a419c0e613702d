// Package payment issues provider payment handles and reads back their
// status. Card and wallet go through Stripe PaymentIntents, crypto
// through Coinbase Commerce hosted charges.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/openfridge/fridge/internal/fridge"
)

var (
	ErrInvalidAmount     = errors.New("payment: invalid amount")
	ErrUnsupportedMethod = errors.New("payment: unsupported method")
	ErrNotSettled        = errors.New("payment: not settled")
	ErrAmountMismatch    = errors.New("payment: amount mismatch")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

func (s Status) Terminal() bool { return s != StatusPending }

type PaymentStatus struct {
	Reference   string `json:"payment_reference"`
	Status      Status `json:"status"`
	AmountCents int64  `json:"amount_cents"`
	// Provider is the raw provider status, kept for logs.
	Provider string `json:"provider_status"`
	// Demo marks a charge issued without provider credentials; it carries
	// no amount to check.
	Demo bool `json:"demo,omitempty"`
}

type Gateway interface {
	CreateHandle(ctx context.Context, req fridge.HandleRequest) (fridge.PaymentHandle, error)
	Status(ctx context.Context, reference string) (PaymentStatus, error)
}

// Registry routes by payment method.
type Registry struct {
	mu       sync.RWMutex
	gateways map[fridge.PaymentMethod]Gateway
}

func NewRegistry() *Registry {
	return &Registry{gateways: map[fridge.PaymentMethod]Gateway{}}
}

func (r *Registry) Register(g Gateway, methods ...fridge.PaymentMethod) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range methods {
		r.gateways[m] = g
	}
}

func (r *Registry) For(m fridge.PaymentMethod) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[m]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, m)
	}
	return g, nil
}

func (r *Registry) CreateHandle(ctx context.Context, req fridge.HandleRequest) (fridge.PaymentHandle, error) {
	if err := Validate(req); err != nil {
		return fridge.PaymentHandle{}, err
	}
	g, err := r.For(req.Method)
	if err != nil {
		return fridge.PaymentHandle{}, err
	}
	h, err := g.CreateHandle(ctx, req)
	if err != nil {
		return fridge.PaymentHandle{}, err
	}
	h.Method = req.Method
	return h, nil
}

func (r *Registry) Status(ctx context.Context, m fridge.PaymentMethod, reference string) (PaymentStatus, error) {
	g, err := r.For(m)
	if err != nil {
		return PaymentStatus{}, err
	}
	return g.Status(ctx, reference)
}

// Verify checks that the payment succeeded for exactly amountCents.
func (r *Registry) Verify(ctx context.Context, m fridge.PaymentMethod, reference string, amountCents int64) error {
	st, err := r.Status(ctx, m, reference)
	if err != nil {
		return err
	}
	if st.Status != StatusSucceeded {
		return fmt.Errorf("%w: %s is %s", ErrNotSettled, reference, st.Status)
	}
	if !st.Demo && st.AmountCents != amountCents {
		return fmt.Errorf("%w: paid %d, lines total %d", ErrAmountMismatch, st.AmountCents, amountCents)
	}
	return nil
}

func Validate(req fridge.HandleRequest) error {
	if !req.Method.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedMethod, req.Method)
	}
	if !req.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// Describe renders items as "2x Cold Brew" entries.
func Describe(items []fridge.HandleItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, fmt.Sprintf("%dx %s", it.Qty, it.Name))
	}
	return out
}

func describeJoined(items []fridge.HandleItem) string {
	return strings.Join(Describe(items), ", ")
}
