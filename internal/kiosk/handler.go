package kiosk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/openfridge/fridge/internal/cart"
	"github.com/openfridge/fridge/internal/checkout"
	"github.com/openfridge/fridge/internal/fridge"
	"github.com/openfridge/fridge/internal/presence"
)

// MaxFrameBytes caps an uploaded camera frame.
const MaxFrameBytes = 8 << 20

var errUnknownItem = errors.New("item not in catalog")

type CatalogSource interface {
	Catalog(ctx context.Context, machineID string) (fridge.Catalog, error)
}

// DisplayHandler is the HTTP surface the touchscreen polls and posts to.
type DisplayHandler struct {
	Runtime   *Runtime
	Source    *presence.PushSource
	Catalog   CatalogSource
	MachineID string
	Log       *zap.Logger
}

func (h *DisplayHandler) Register(r chi.Router) {
	r.Get("/session", h.session)
	r.Post("/session/events", h.event)
	r.Post("/presence/frame", h.frame)
	r.Post("/presence/faces", h.faces)
	r.Get("/catalog", h.catalog)
}

// EventReq is one user action. Type selects which other fields are read.
type EventReq struct {
	Type      string               `json:"type"`
	ItemID    string               `json:"item_id,omitempty"`
	Delta     int                  `json:"delta,omitempty"`
	Method    fridge.PaymentMethod `json:"method,omitempty"`
	Reference string               `json:"payment_reference,omitempty"`
	Outcome   string               `json:"outcome,omitempty"`
	Message   string               `json:"message,omitempty"`
	Contact   fridge.Contact       `json:"contact"`
}

func (h *DisplayHandler) session(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Runtime.Snapshot())
}

func (h *DisplayHandler) event(w http.ResponseWriter, r *http.Request) {
	var req EventReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ev, err := h.toEvent(ctx, req)
	if err != nil {
		code := http.StatusBadRequest
		if !errors.Is(err, fridge.ErrInvalidRequest) && !errors.Is(err, errUnknownItem) {
			code = http.StatusBadGateway
		}
		writeJSON(w, code, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h.Runtime.Dispatch(ev))
}

func (h *DisplayHandler) toEvent(ctx context.Context, req EventReq) (checkout.Event, error) {
	switch req.Type {
	case "activate":
		return checkout.Activate{}, nil
	case "add_item":
		item, err := h.item(ctx, req.ItemID)
		if err != nil {
			return nil, err
		}
		return checkout.AddItem{Item: item}, nil
	case "update_quantity":
		return checkout.UpdateQuantity{ItemID: req.ItemID, Delta: req.Delta}, nil
	case "remove_item":
		return checkout.RemoveItem{ItemID: req.ItemID}, nil
	case "begin_checkout":
		return checkout.BeginCheckout{Method: req.Method}, nil
	case "payment_succeeded":
		return checkout.PaymentSucceeded{Reference: req.Reference}, nil
	case "payment_failed":
		return checkout.PaymentFailed{Reference: req.Reference, Outcome: req.Outcome, Message: req.Message}, nil
	case "retry_payment":
		return checkout.RetryPayment{Method: req.Method}, nil
	case "back":
		return checkout.Back{}, nil
	case "submit_contact":
		return checkout.SubmitContact{Contact: req.Contact}, nil
	case "skip_contact":
		return checkout.SkipContact{}, nil
	case "retry_settlement":
		return checkout.RetrySettlement{}, nil
	case "new_order":
		return checkout.NewOrder{}, nil
	}
	return nil, fmt.Errorf("%w: unknown event type %q", fridge.ErrInvalidRequest, req.Type)
}

// item prices a cart line from the live catalog, never from the client.
func (h *DisplayHandler) item(ctx context.Context, id string) (cart.Item, error) {
	cat, err := h.Catalog.Catalog(ctx, h.MachineID)
	if err != nil {
		return cart.Item{}, err
	}
	it, ok := cat.Item(id)
	if !ok {
		return cart.Item{}, fmt.Errorf("%w: %s", errUnknownItem, id)
	}
	return cart.Item{ID: it.ID, Name: it.Name, Price: it.Price, Stock: it.StockCount}, nil
}

func (h *DisplayHandler) frame(w http.ResponseWriter, r *http.Request) {
	img, _, err := image.Decode(io.LimitReader(r.Body, MaxFrameBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid image"})
		return
	}
	h.Source.PushFrame(img)
	w.WriteHeader(http.StatusNoContent)
}

func (h *DisplayHandler) faces(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Count < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid count"})
		return
	}
	h.Source.PushFaces(req.Count)
	w.WriteHeader(http.StatusNoContent)
}

func (h *DisplayHandler) catalog(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	cat, err := h.Catalog.Catalog(ctx, h.MachineID)
	if err != nil {
		h.Log.Warn("catalog fetch failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, cat)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
