package fridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
)

const (
	DefaultDoorLogLimit = 50
	MaxDoorLogLimit     = 100
)

type Repo struct{ DB *pgxpool.Pool }

// ValidID reports whether id can name a row; every primary key is a UUID.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (r *Repo) GetMachine(ctx context.Context, id string) (Machine, error) {
	if !ValidID(id) {
		return Machine{}, fmt.Errorf("machine %s: %w", id, ErrNotFound)
	}
	var (
		m      Machine
		url    *string
		key    *string
		status string
	)
	err := r.DB.QueryRow(ctx, `
		SELECT id, name, location, status, owner_id, lock_enabled, lock_api_url, lock_api_key,
		       lock_duration_sec, ipad_placement, created_at
		FROM machines WHERE id=$1`, id).Scan(
		&m.ID, &m.Name, &m.Location, &status, &m.OwnerID, &m.Lock.Enabled, &url, &key,
		&m.Lock.DurationSec, &m.IPadPlacement, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Machine{}, fmt.Errorf("machine %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Machine{}, err
	}
	m.Status = MachineStatus(status)
	if url != nil {
		m.Lock.APIURL = *url
	}
	if key != nil {
		m.Lock.APIKey = *key
	}
	return m, nil
}

// ListInventory returns the machine's catalog ordered by name.
func (r *Repo) ListInventory(ctx context.Context, machineID string) ([]InventoryItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, machine_id, item_name, price_cents, purchase_price_cents, stock_count,
		       COALESCE(image_url,''), COALESCE(reorder_url,''), COALESCE(description,''), created_at
		FROM inventory WHERE machine_id=$1 ORDER BY item_name`, machineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InventoryItem
	for rows.Next() {
		var (
			it            InventoryItem
			priceCents    int64
			purchaseCents *int64
		)
		if err := rows.Scan(&it.ID, &it.MachineID, &it.Name, &priceCents, &purchaseCents, &it.StockCount,
			&it.ImageURL, &it.ReorderURL, &it.Description, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.Price = FromCents(priceCents)
		if purchaseCents != nil {
			p := FromCents(*purchaseCents)
			it.PurchasePrice = &p
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *Repo) GetInventoryItem(ctx context.Context, id string) (InventoryItem, error) {
	if !ValidID(id) {
		return InventoryItem{}, fmt.Errorf("inventory %s: %w", id, ErrNotFound)
	}
	var (
		it         InventoryItem
		priceCents int64
	)
	err := r.DB.QueryRow(ctx, `
		SELECT id, machine_id, item_name, price_cents, stock_count, COALESCE(reorder_url,'')
		FROM inventory WHERE id=$1`, id).Scan(&it.ID, &it.MachineID, &it.Name, &priceCents, &it.StockCount, &it.ReorderURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return InventoryItem{}, fmt.Errorf("inventory %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return InventoryItem{}, err
	}
	it.Price = FromCents(priceCents)
	return it, nil
}

func (r *Repo) InsertDoorAccess(ctx context.Context, ev DoorAccessEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	_, err := r.DB.Exec(ctx, `
		INSERT INTO door_access_logs(id, machine_id, payment_reference, trigger, opened_at)
		VALUES ($1,$2,$3,$4,$5)`,
		ev.ID, ev.MachineID, ev.PaymentReference, string(ev.Trigger), ev.OpenedAt)
	return err
}

// ListDoorAccess returns newest first. limit is clamped to (0, MaxDoorLogLimit].
func (r *Repo) ListDoorAccess(ctx context.Context, machineID string, limit int) ([]DoorAccessEvent, error) {
	limit = ClampDoorLogLimit(limit)
	rows, err := r.DB.Query(ctx, `
		SELECT id, machine_id, payment_reference, trigger, opened_at
		FROM door_access_logs WHERE machine_id=$1
		ORDER BY opened_at DESC LIMIT $2`, machineID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []DoorAccessEvent{}
	for rows.Next() {
		var (
			ev      DoorAccessEvent
			trigger string
		)
		if err := rows.Scan(&ev.ID, &ev.MachineID, &ev.PaymentReference, &trigger, &ev.OpenedAt); err != nil {
			return nil, err
		}
		ev.Trigger = DoorTrigger(trigger)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func ClampDoorLogLimit(limit int) int {
	if limit <= 0 {
		return DefaultDoorLogLimit
	}
	if limit > MaxDoorLogLimit {
		return MaxDoorLogLimit
	}
	return limit
}
