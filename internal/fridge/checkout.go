package fridge

import "github.com/shopspring/decimal"

// Wire contract between the kiosk and the settlement API.

type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

func (c Contact) Empty() bool { return c.Name == "" && c.Email == "" && c.Phone == "" }

type HandleItem struct {
	Name string `json:"name"`
	Qty  int    `json:"qty"`
}

type HandleRequest struct {
	Method    PaymentMethod   `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	MachineID string          `json:"machine_id"`
	Items     []HandleItem    `json:"items"`
}

type PaymentHandle struct {
	Method       PaymentMethod `json:"method"`
	ClientSecret string        `json:"client_secret,omitempty"`
	Reference    string        `json:"payment_reference"`
	HostedURL    string        `json:"hosted_url,omitempty"`
}

type SettleRequest struct {
	PaymentReference string        `json:"payment_reference"`
	Contact          *Contact      `json:"contact,omitempty"`
	MachineID        string        `json:"machine_id"`
	Method           PaymentMethod `json:"payment_method"`
	Lines            []SaleLine    `json:"lines"`
}

// Amount is the sum of the line totals.
func (r SettleRequest) Amount() decimal.Decimal {
	total := decimal.Zero
	for _, l := range r.Lines {
		total = total.Add(l.LineTotal)
	}
	return total
}

type SettleResult struct {
	Success  bool        `json:"success"`
	OrderID  string      `json:"order_id"`
	Lock     LockOutcome `json:"lock"`
	Replayed bool        `json:"replayed,omitempty"`
}

// CatalogItem is an inventory row with its display flags.
type CatalogItem struct {
	InventoryItem
	SoldOut  bool `json:"sold_out"`
	LowStock bool `json:"low_stock"`
}

type Catalog struct {
	Machine Machine       `json:"machine"`
	Items   []CatalogItem `json:"items"`
}

func NewCatalog(m Machine, inv []InventoryItem) Catalog {
	items := make([]CatalogItem, 0, len(inv))
	for _, it := range inv {
		items = append(items, CatalogItem{InventoryItem: it, SoldOut: it.SoldOut(), LowStock: it.LowStock()})
	}
	return Catalog{Machine: m, Items: items}
}

// Item finds a catalog row by inventory id.
func (c Catalog) Item(id string) (CatalogItem, bool) {
	for _, it := range c.Items {
		if it.ID == id {
			return it, true
		}
	}
	return CatalogItem{}, false
}
