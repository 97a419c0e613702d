package fridge

import (
	"encoding/json"
	"time"
)

const (
	EventSaleSettled   = "SaleSettled"
	EventDoorUnlocked  = "DoorUnlocked"
	EventRestockNeeded = "RestockNeeded"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // payment reference or machine id
	Payload       json.RawMessage `json:"payload"`
}

type SettledLine struct {
	InventoryID string `json:"inventory_id"`
	Name        string `json:"name"`
	Qty         int    `json:"qty"`
	TotalCents  int64  `json:"total_cents"`
	StockAfter  int    `json:"stock_after"`
}

type SaleSettledPayload struct {
	PaymentReference string        `json:"payment_reference"`
	MachineID        string        `json:"machine_id"`
	PaymentMethod    PaymentMethod `json:"payment_method"`
	AmountCents      int64         `json:"amount_cents"`
	Lines            []SettledLine `json:"lines"`
	// Contact is set when the customer asked for a receipt.
	Contact *Contact `json:"contact,omitempty"`
}

type DoorUnlockedPayload struct {
	MachineID        string      `json:"machine_id"`
	PaymentReference string      `json:"payment_reference,omitempty"`
	Trigger          DoorTrigger `json:"trigger"`
	ExpiresAt        time.Time   `json:"expires_at"`
}

type RestockNeededPayload struct {
	MachineID   string `json:"machine_id"`
	InventoryID string `json:"inventory_id"`
	ItemName    string `json:"item_name"`
	StockCount  int    `json:"stock_count"`
	SoldOut     bool   `json:"sold_out"`
	ReorderURL  string `json:"reorder_url,omitempty"`
}
