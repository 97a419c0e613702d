package fridge

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestStockAfterSale(t *testing.T) {
	tests := []struct {
		before, sold, want int
	}{
		{5, 2, 3},
		{1, 1, 0},
		{1, 3, 0},
		{0, 1, 0},
	}
	for _, tt := range tests {
		if got := StockAfterSale(tt.before, tt.sold); got != tt.want {
			t.Errorf("StockAfterSale(%d, %d) = %d, want %d", tt.before, tt.sold, got, tt.want)
		}
	}
}

func TestCents(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"9.98", 998},
		{"4.995", 500},
		{"0.01", 1},
		{"12", 1200},
	}
	for _, tt := range tests {
		if got := Cents(decimal.RequireFromString(tt.in)); got != tt.want {
			t.Errorf("Cents(%s) = %d, want %d", tt.in, got, tt.want)
		}
	}
	if !FromCents(998).Equal(decimal.RequireFromString("9.98")) {
		t.Error("FromCents(998) != 9.98")
	}
}

func TestInventoryStockState(t *testing.T) {
	tests := []struct {
		stock        int
		low, soldOut bool
	}{
		{0, false, true},
		{1, true, false},
		{3, true, false},
		{4, false, false},
	}
	for _, tt := range tests {
		it := InventoryItem{StockCount: tt.stock}
		if it.LowStock() != tt.low || it.SoldOut() != tt.soldOut {
			t.Errorf("stock %d: low=%v soldOut=%v", tt.stock, it.LowStock(), it.SoldOut())
		}
	}
}

func TestLockDuration(t *testing.T) {
	if got := (LockConfig{}).Duration(); got != 30*time.Second {
		t.Errorf("default Duration() = %v, want 30s", got)
	}
	if got := (LockConfig{DurationSec: 12}).Duration(); got != 12*time.Second {
		t.Errorf("Duration() = %v, want 12s", got)
	}
}

func TestClampDoorLogLimit(t *testing.T) {
	for in, want := range map[int]int{0: 50, -3: 50, 10: 10, 100: 100, 500: 100} {
		if got := ClampDoorLogLimit(in); got != want {
			t.Errorf("ClampDoorLogLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestPaymentMethodValid(t *testing.T) {
	for _, m := range []PaymentMethod{PaymentCard, PaymentWallet, PaymentCrypto} {
		if !m.Valid() {
			t.Errorf("%q should be valid", m)
		}
	}
	if PaymentMethod("cash").Valid() {
		t.Error("cash should not be valid")
	}
}

func TestNewCatalogFlagsAndLookup(t *testing.T) {
	cat := NewCatalog(Machine{ID: "m"}, []InventoryItem{
		{ID: "a", StockCount: 0},
		{ID: "b", StockCount: 2},
		{ID: "c", StockCount: 9},
	})
	if !cat.Items[0].SoldOut || !cat.Items[1].LowStock || cat.Items[2].LowStock || cat.Items[2].SoldOut {
		t.Errorf("items = %+v", cat.Items)
	}
	if it, ok := cat.Item("b"); !ok || it.StockCount != 2 {
		t.Errorf("Item(b) = %+v, %v", it, ok)
	}
	if _, ok := cat.Item("z"); ok {
		t.Error("Item(z) found")
	}
	if empty := NewCatalog(Machine{}, nil); empty.Items == nil {
		t.Error("empty catalog items should encode as []")
	}
}
