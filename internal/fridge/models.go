package fridge

import (
	"time"

	"github.com/shopspring/decimal"
)

type MachineStatus string

const (
	MachineActive      MachineStatus = "active"
	MachineInactive    MachineStatus = "inactive"
	MachineMaintenance MachineStatus = "maintenance"
)

// DefaultLockDurationSec applies when a machine has no duration configured.
const DefaultLockDurationSec = 30

// LowStockThreshold marks an item as "low" for the display and the restock worker.
const LowStockThreshold = 3

type LockConfig struct {
	Enabled     bool   `json:"enabled"`
	APIURL      string `json:"-"`
	APIKey      string `json:"-"`
	DurationSec int    `json:"duration_sec"`
}

// Duration returns the configured hold, defaulting to 30s.
func (c LockConfig) Duration() time.Duration {
	if c.DurationSec <= 0 {
		return DefaultLockDurationSec * time.Second
	}
	return time.Duration(c.DurationSec) * time.Second
}

type Machine struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Location      string        `json:"location"`
	Status        MachineStatus `json:"status"`
	OwnerID       *string       `json:"owner_id,omitempty"`
	Lock          LockConfig    `json:"lock"`
	IPadPlacement *string       `json:"ipad_placement,omitempty"` // on_door | countertop | mounted
	CreatedAt     time.Time     `json:"created_at"`
}

type InventoryItem struct {
	ID            string           `json:"id"`
	MachineID     string           `json:"machine_id"`
	Name          string           `json:"item_name"`
	Price         decimal.Decimal  `json:"price"`
	PurchasePrice *decimal.Decimal `json:"purchase_price,omitempty"`
	StockCount    int              `json:"stock_count"`
	ImageURL      string           `json:"image_url,omitempty"`
	ReorderURL    string           `json:"reorder_url,omitempty"`
	Description   string           `json:"description,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

func (i InventoryItem) SoldOut() bool  { return i.StockCount <= 0 }
func (i InventoryItem) LowStock() bool { return i.StockCount > 0 && i.StockCount <= LowStockThreshold }

// StockAfterSale is the only stock rule settlement relies on.
func StockAfterSale(before, sold int) int {
	if after := before - sold; after > 0 {
		return after
	}
	return 0
}

type PaymentMethod string

const (
	PaymentCard   PaymentMethod = "card"
	PaymentWallet PaymentMethod = "wallet"
	PaymentCrypto PaymentMethod = "crypto"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCard, PaymentWallet, PaymentCrypto:
		return true
	}
	return false
}

// Sale is written once per cart line at settlement and never updated.
type Sale struct {
	ID               string          `json:"id"`
	MachineID        string          `json:"machine_id"`
	InventoryID      *string         `json:"inventory_id,omitempty"`
	ItemName         string          `json:"item_name"`
	Quantity         int             `json:"quantity"`
	TotalPrice       decimal.Decimal `json:"total_price"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	PaymentReference string          `json:"payment_reference"`
	SoldAt           time.Time       `json:"sold_at"`
}

type DoorTrigger string

const (
	TriggerPurchase DoorTrigger = "purchase"
	TriggerManual   DoorTrigger = "manual"
)

type DoorAccessEvent struct {
	ID               string      `json:"id"`
	MachineID        string      `json:"machine_id"`
	PaymentReference *string     `json:"payment_reference,omitempty"`
	Trigger          DoorTrigger `json:"trigger"`
	OpenedAt         time.Time   `json:"opened_at"`
}

// LockOutcome is what a settlement reports about the door.
type LockOutcome struct {
	Unlocked  bool       `json:"unlocked"`
	ExpiresAt *time.Time `json:"expires_at"`
	Error     *string    `json:"error"`
}

// Settlement is the idempotency record for one payment reference.
// CompletedAt is nil until the lock step has run and Lock is filled.
type Settlement struct {
	PaymentReference string        `json:"payment_reference"`
	MachineID        string        `json:"machine_id"`
	AmountCents      int64         `json:"amount_cents"`
	PaymentMethod    PaymentMethod `json:"payment_method"`
	Lock             LockOutcome   `json:"lock"`
	CreatedAt        time.Time     `json:"created_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// SaleLine is one cart line as sent by the kiosk.
type SaleLine struct {
	InventoryID string          `json:"inventory_id"`
	Name        string          `json:"name"`
	Qty         int             `json:"qty"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// Cents converts a money amount to integer cents, rounding half away from zero.
func Cents(d decimal.Decimal) int64 { return d.Shift(2).Round(0).IntPart() }

// FromCents is the inverse of Cents.
func FromCents(c int64) decimal.Decimal { return decimal.New(c, -2) }
