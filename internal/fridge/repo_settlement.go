package fridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SettlementRepo struct{ DB *pgxpool.Pool }

type RecordSaleInput struct {
	PaymentReference string
	MachineID        string
	Method           PaymentMethod
	AmountCents      int64
	Lines            []SaleLine
	SoldAt           time.Time
}

// RecordSaleResult.Existed is true when the payment reference had already
// been recorded; in that case nothing was written and Lines is empty.
type RecordSaleResult struct {
	Settlement Settlement
	Lines      []SettledLine
	Existed    bool
}

// RecordSale writes the settlement row, every sale row and every stock
// decrement in one transaction. The settlements primary key makes a
// retried call with the same payment reference a no-op.
// Inventory rows are locked FOR UPDATE in id order so concurrent
// settlements on the same fridge cannot deadlock.
func (r *SettlementRepo) RecordSale(ctx context.Context, in RecordSaleInput) (RecordSaleResult, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return RecordSaleResult{}, err
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `
		INSERT INTO settlements(payment_reference, machine_id, amount_cents, payment_method, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (payment_reference) DO NOTHING`,
		in.PaymentReference, in.MachineID, in.AmountCents, string(in.Method), in.SoldAt)
	if err != nil {
		return RecordSaleResult{}, err
	}
	if ct.RowsAffected() == 0 {
		s, err := scanSettlement(tx.QueryRow(ctx, settlementSelect, in.PaymentReference))
		if err != nil {
			return RecordSaleResult{}, err
		}
		return RecordSaleResult{Settlement: s, Existed: true}, nil
	}

	lines := make([]SaleLine, len(in.Lines))
	copy(lines, in.Lines)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].InventoryID < lines[j].InventoryID })

	settled := make([]SettledLine, 0, len(lines))
	for _, ln := range lines {
		var (
			stock     int
			machineID string
		)
		err := tx.QueryRow(ctx, `SELECT stock_count, machine_id FROM inventory WHERE id=$1 FOR UPDATE`,
			ln.InventoryID).Scan(&stock, &machineID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return RecordSaleResult{}, err
		}

		var inventoryID *string
		after := 0
		if err == nil {
			if machineID != in.MachineID {
				return RecordSaleResult{}, fmt.Errorf("%w: inventory %s belongs to another machine", ErrInvalidRequest, ln.InventoryID)
			}
			after = StockAfterSale(stock, ln.Qty)
			if _, err := tx.Exec(ctx, `UPDATE inventory SET stock_count=$2 WHERE id=$1`, ln.InventoryID, after); err != nil {
				return RecordSaleResult{}, err
			}
			id := ln.InventoryID
			inventoryID = &id
		}
		// a deleted item still gets its sale row, without the inventory link

		total := Cents(ln.LineTotal)
		if _, err := tx.Exec(ctx, `
			INSERT INTO sales(id, machine_id, inventory_id, item_name, quantity, total_price_cents,
			                  payment_method, payment_reference, sold_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			uuid.NewString(), in.MachineID, inventoryID, ln.Name, ln.Qty, total,
			string(in.Method), in.PaymentReference, in.SoldAt); err != nil {
			return RecordSaleResult{}, err
		}
		settled = append(settled, SettledLine{
			InventoryID: ln.InventoryID, Name: ln.Name, Qty: ln.Qty, TotalCents: total, StockAfter: after,
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return RecordSaleResult{}, err
	}
	return RecordSaleResult{
		Settlement: Settlement{
			PaymentReference: in.PaymentReference,
			MachineID:        in.MachineID,
			AmountCents:      in.AmountCents,
			PaymentMethod:    in.Method,
			CreatedAt:        in.SoldAt,
		},
		Lines: settled,
	}, nil
}

// CompleteSettlement stores the lock outcome; a settlement without it is
// resumed by the next retry.
func (r *SettlementRepo) CompleteSettlement(ctx context.Context, ref string, lock LockOutcome, at time.Time) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE settlements SET lock_unlocked=$2, lock_expires_at=$3, lock_error=$4, completed_at=$5
		WHERE payment_reference=$1`, ref, lock.Unlocked, lock.ExpiresAt, lock.Error, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("settlement %s: %w", ref, ErrNotFound)
	}
	return nil
}

const settlementSelect = `
	SELECT payment_reference, machine_id, amount_cents, payment_method,
	       COALESCE(lock_unlocked, false), lock_expires_at, lock_error, created_at, completed_at
	FROM settlements WHERE payment_reference=$1`

func scanSettlement(row pgx.Row) (Settlement, error) {
	var (
		s      Settlement
		method string
	)
	err := row.Scan(&s.PaymentReference, &s.MachineID, &s.AmountCents, &method,
		&s.Lock.Unlocked, &s.Lock.ExpiresAt, &s.Lock.Error, &s.CreatedAt, &s.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settlement{}, ErrNotFound
	}
	if err != nil {
		return Settlement{}, err
	}
	s.PaymentMethod = PaymentMethod(method)
	return s, nil
}
