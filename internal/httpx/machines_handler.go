package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/openfridge/fridge/internal/fridge"
	"github.com/openfridge/fridge/internal/lock"
	"github.com/openfridge/fridge/internal/restock"
)

type MachineStore interface {
	GetMachine(ctx context.Context, id string) (fridge.Machine, error)
	ListInventory(ctx context.Context, machineID string) ([]fridge.InventoryItem, error)
	ListDoorAccess(ctx context.Context, machineID string, limit int) ([]fridge.DoorAccessEvent, error)
}

type HoldReader interface {
	ActiveHold(ctx context.Context, machineID string) (lock.Hold, bool, error)
}

type MachinesHandler struct {
	Store   MachineStore
	Settler Settler
	Holds   HoldReader
	Redis   *redis.Client
}

func (h *MachinesHandler) Register(r chi.Router) {
	r.Route("/machines/{id}", func(r chi.Router) {
		r.Get("/catalog", h.catalog)
		r.Post("/unlock", h.unlock)
		r.Get("/door-logs", h.doorLogs)
		r.Get("/lock", h.lockStatus)
		r.Get("/restock", h.restockPending)
		r.Delete("/restock/{item}", h.restockDone)
	})
}

func (h *MachinesHandler) catalog(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	m, err := h.Store.GetMachine(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	inv, err := h.Store.ListInventory(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fridge.NewCatalog(m, inv))
}

func (h *MachinesHandler) unlock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	out, err := h.Settler.UnlockManual(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *MachinesHandler) doorLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !fridge.ValidID(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "machine not found"})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	logs, err := h.Store.ListDoorAccess(ctx, id, fridge.ClampDoorLogLimit(limit))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (h *MachinesHandler) lockStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	hold, active, err := h.Holds.ActiveHold(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]any{"active": active}
	if active {
		resp["hold"] = hold
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *MachinesHandler) restockPending(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ids, err := restock.Pending(ctx, h.Redis, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inventory_ids": ids})
}

// restockDone clears an item once the operator has refilled it.
func (h *MachinesHandler) restockDone(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := restock.Clear(ctx, h.Redis, chi.URLParam(r, "id"), chi.URLParam(r, "item")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
