// Package cart is the kiosk's in-memory cart. It enforces the stock cap
// of every line and prices lines from the snapshot taken when the line
// was created, so operator edits mid-session do not reprice a cart.
package cart

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Item is the catalog snapshot a line is built from.
type Item struct {
	ID    string
	Name  string
	Price decimal.Decimal
	Stock int
}

// Line invariant: 1 <= Quantity <= Item.Stock.
type Line struct {
	Item     Item
	Quantity int
}

func (l Line) Total() decimal.Decimal {
	return l.Item.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// SummaryLine is what the payment provider sees.
type SummaryLine struct {
	Name string `json:"name"`
	Qty  int    `json:"qty"`
}

func (s SummaryLine) String() string { return fmt.Sprintf("%dx %s", s.Qty, s.Name) }

// Cart keeps lines in insertion order. The zero value is an empty cart.
type Cart struct {
	lines []Line
}

func (c *Cart) index(itemID string) int {
	for i := range c.lines {
		if c.lines[i].Item.ID == itemID {
			return i
		}
	}
	return -1
}

// Add increments the item's line by one, creating it from item when
// absent. Taps past the stock cap are ignored; the return value reports
// whether the cart changed.
func (c *Cart) Add(item Item) bool {
	if i := c.index(item.ID); i >= 0 {
		if c.lines[i].Quantity >= c.lines[i].Item.Stock {
			return false
		}
		c.lines[i].Quantity++
		return true
	}
	if item.Stock < 1 {
		return false
	}
	c.lines = append(c.lines, Line{Item: item, Quantity: 1})
	return true
}

// UpdateQuantity applies delta. A result <= 0 drops the line; a result
// above the stock cap is rejected and the line is left unchanged.
func (c *Cart) UpdateQuantity(itemID string, delta int) bool {
	i := c.index(itemID)
	if i < 0 || delta == 0 {
		return false
	}
	l := &c.lines[i]
	switch {
	case delta > l.Item.Stock-l.Quantity:
		return false
	case delta <= -l.Quantity:
		c.removeAt(i)
	default:
		l.Quantity += delta
	}
	return true
}

// Remove drops the line unconditionally.
func (c *Cart) Remove(itemID string) bool {
	i := c.index(itemID)
	if i < 0 {
		return false
	}
	c.removeAt(i)
	return true
}

func (c *Cart) removeAt(i int) {
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
}

func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.lines {
		total = total.Add(l.Total())
	}
	return total
}

// Count is the badge number: the sum of quantities.
func (c *Cart) Count() int {
	n := 0
	for _, l := range c.lines {
		n += l.Quantity
	}
	return n
}

func (c *Cart) Empty() bool { return len(c.lines) == 0 }

func (c *Cart) Quantity(itemID string) int {
	if i := c.index(itemID); i >= 0 {
		return c.lines[i].Quantity
	}
	return 0
}

// AtCap reports whether another Add of itemID would be ignored, which
// the display uses to disable the tile.
func (c *Cart) AtCap(itemID string) bool {
	i := c.index(itemID)
	return i >= 0 && c.lines[i].Quantity >= c.lines[i].Item.Stock
}

// Lines returns a copy.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Summary() []SummaryLine {
	out := make([]SummaryLine, 0, len(c.lines))
	for _, l := range c.lines {
		out = append(out, SummaryLine{Name: l.Item.Name, Qty: l.Quantity})
	}
	return out
}
