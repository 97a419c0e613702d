package fridge_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/openfridge/fridge/internal/fridge"
	"github.com/openfridge/fridge/internal/postgres"
)

// Runs only when FRIDGE_TEST_POSTGRES_DSN points at a disposable database.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("FRIDGE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FRIDGE_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := postgres.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := postgres.Migrate(ctx, pool); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	return pool
}

func seed(t *testing.T, pool *pgxpool.Pool, stock int) (machineID, itemID string) {
	t.Helper()
	ctx := context.Background()
	machineID, itemID = uuid.NewString(), uuid.NewString()
	if _, err := pool.Exec(ctx, `INSERT INTO machines(id, name, location) VALUES ($1,'Lobby','HQ')`, machineID); err != nil {
		t.Fatalf("insert machine: %v", err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO inventory(id, machine_id, item_name, price_cents, stock_count)
		VALUES ($1,$2,'Cold Brew',499,$3)`, itemID, machineID, stock); err != nil {
		t.Fatalf("insert inventory: %v", err)
	}
	return machineID, itemID
}

func TestRecordSaleDecrementsOnceAndIsIdempotent(t *testing.T) {
	pool := testPool(t)
	machineID, itemID := seed(t, pool, 5)
	repo := &fridge.SettlementRepo{DB: pool}
	ctx := context.Background()

	in := fridge.RecordSaleInput{
		PaymentReference: "pi_" + uuid.NewString(),
		MachineID:        machineID,
		Method:           fridge.PaymentCard,
		AmountCents:      998,
		Lines: []fridge.SaleLine{
			{InventoryID: itemID, Name: "Cold Brew", Qty: 2, LineTotal: decimal.RequireFromString("9.98")},
		},
		SoldAt: time.Now().UTC(),
	}

	first, err := repo.RecordSale(ctx, in)
	if err != nil {
		t.Fatalf("RecordSale() error: %v", err)
	}
	if first.Existed || len(first.Lines) != 1 || first.Lines[0].StockAfter != 3 {
		t.Fatalf("first = %+v", first)
	}

	second, err := repo.RecordSale(ctx, in)
	if err != nil {
		t.Fatalf("RecordSale() retry error: %v", err)
	}
	if !second.Existed {
		t.Fatal("retry should report Existed")
	}

	var stock, sales int
	var total int64
	if err := pool.QueryRow(ctx, `SELECT stock_count FROM inventory WHERE id=$1`, itemID).Scan(&stock); err != nil {
		t.Fatal(err)
	}
	if err := pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(total_price_cents),0) FROM sales WHERE payment_reference=$1`,
		in.PaymentReference).Scan(&sales, &total); err != nil {
		t.Fatal(err)
	}
	if stock != 3 || sales != 1 || total != 998 {
		t.Fatalf("stock=%d sales=%d total=%d, want 3 1 998", stock, sales, total)
	}

	exp := time.Now().Add(30 * time.Second).UTC()
	if err := repo.CompleteSettlement(ctx, in.PaymentReference, fridge.LockOutcome{Unlocked: true, ExpiresAt: &exp}, time.Now()); err != nil {
		t.Fatalf("CompleteSettlement() error: %v", err)
	}
	third, err := repo.RecordSale(ctx, in)
	if err != nil {
		t.Fatalf("RecordSale() after completion error: %v", err)
	}
	if s := third.Settlement; !third.Existed || s.CompletedAt == nil || !s.Lock.Unlocked {
		t.Fatalf("settlement = %+v", s)
	}
}

func TestDoorAccessNewestFirst(t *testing.T) {
	pool := testPool(t)
	machineID, _ := seed(t, pool, 1)
	repo := &fridge.Repo{DB: pool}
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		ev := fridge.DoorAccessEvent{MachineID: machineID, Trigger: fridge.TriggerManual, OpenedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := repo.InsertDoorAccess(ctx, ev); err != nil {
			t.Fatalf("InsertDoorAccess() error: %v", err)
		}
	}
	logs, err := repo.ListDoorAccess(ctx, machineID, 2)
	if err != nil {
		t.Fatalf("ListDoorAccess() error: %v", err)
	}
	if len(logs) != 2 || !logs[0].OpenedAt.After(logs[1].OpenedAt) {
		t.Fatalf("logs = %+v", logs)
	}
}
