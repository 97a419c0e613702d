package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/openfridge/fridge/internal/fridge"
	"github.com/openfridge/fridge/internal/payment"
)

type Payments interface {
	CreateHandle(ctx context.Context, req fridge.HandleRequest) (fridge.PaymentHandle, error)
	Status(ctx context.Context, m fridge.PaymentMethod, reference string) (payment.PaymentStatus, error)
}

type Settler interface {
	Settle(ctx context.Context, req fridge.SettleRequest) (fridge.SettleResult, error)
	UnlockManual(ctx context.Context, machineID string) (fridge.LockOutcome, error)
}

type CheckoutHandler struct {
	Payments      Payments
	Settler       Settler
	Log           *zap.Logger
	SettleTimeout time.Duration
}

func (h *CheckoutHandler) Register(r chi.Router) {
	r.Post("/checkout/handle", h.createHandle)
	r.Get("/checkout/payments/{ref}", h.paymentStatus)
	r.Post("/checkout/settle", h.settle)
}

func (h *CheckoutHandler) createHandle(w http.ResponseWriter, r *http.Request) {
	var req fridge.HandleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	handle, err := h.Payments.CreateHandle(ctx, req)
	if err != nil {
		h.Log.Warn("payment handle failed", zap.String("method", string(req.Method)), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, handle)
}

func (h *CheckoutHandler) paymentStatus(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	method := fridge.PaymentMethod(r.URL.Query().Get("method"))
	if method == "" {
		method = fridge.PaymentCard
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	st, err := h.Payments.Status(ctx, method, ref)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *CheckoutHandler) settle(w http.ResponseWriter, r *http.Request) {
	var req fridge.SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	timeout := h.SettleTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	res, err := h.Settler.Settle(ctx, req)
	if err != nil {
		h.Log.Error("settlement failed", zap.String("payment_reference", req.PaymentReference), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
