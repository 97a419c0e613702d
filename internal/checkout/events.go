package checkout

import (
	"time"

	"github.com/openfridge/fridge/internal/cart"
	"github.com/openfridge/fridge/internal/fridge"
)

// Event is an input to Machine.Dispatch.
type Event interface{ event() }

type (
	PresenceDetected struct{}
	// Activate is the tap-anywhere fallback on the idle screen.
	Activate struct{}

	AddItem        struct{ Item cart.Item }
	UpdateQuantity struct {
		ItemID string
		Delta  int
	}
	RemoveItem struct{ ItemID string }

	BeginCheckout struct{ Method fridge.PaymentMethod }

	PaymentHandleReady struct {
		Token  uint64
		Handle fridge.PaymentHandle
	}
	PaymentHandleFailed struct {
		Token uint64
		Err   string
	}

	// PaymentSucceeded / PaymentFailed are terminal outcomes reported by
	// the provider for the handle with this reference.
	PaymentSucceeded struct{ Reference string }
	PaymentFailed    struct {
		Reference string
		Outcome   string // declined | canceled | error | timeout
		Message   string
	}
	// RetryPayment asks for a fresh handle after a failed payment. An empty
	// Method keeps the previous one.
	RetryPayment struct{ Method fridge.PaymentMethod }

	Back struct{}

	SubmitContact struct{ Contact fridge.Contact }
	SkipContact   struct{}

	SettlementSucceeded struct {
		Token  uint64
		Result fridge.SettleResult
	}
	SettlementFailed struct {
		Token uint64
		Err   string
	}
	RetrySettlement struct{}

	NewOrder struct{}

	TimerFired struct {
		Timer Timer
		Token uint64
	}
)

func (PresenceDetected) event()    {}
func (Activate) event()            {}
func (AddItem) event()             {}
func (UpdateQuantity) event()      {}
func (RemoveItem) event()          {}
func (BeginCheckout) event()       {}
func (PaymentHandleReady) event()  {}
func (PaymentHandleFailed) event() {}
func (PaymentSucceeded) event()    {}
func (PaymentFailed) event()       {}
func (RetryPayment) event()        {}
func (Back) event()                {}
func (SubmitContact) event()       {}
func (SkipContact) event()         {}
func (SettlementSucceeded) event() {}
func (SettlementFailed) event()    {}
func (RetrySettlement) event()     {}
func (NewOrder) event()            {}
func (TimerFired) event()          {}

// Command is a side effect the runtime must perform. Async results come
// back as events carrying the same Token.
type Command interface{ command() }

type (
	RequestPaymentHandle struct {
		Token   uint64
		Request fridge.HandleRequest
	}
	Settle struct {
		Token   uint64
		Request fridge.SettleRequest
	}
	// StartTimer replaces any running timer of the same kind.
	StartTimer struct {
		Timer Timer
		Token uint64
		After time.Duration
	}
	CancelTimer   struct{ Timer Timer }
	StartPresence struct{}
	StopPresence  struct{}
	Greet         struct{ MachineName string }
)

func (RequestPaymentHandle) command() {}
func (Settle) command()               {}
func (StartTimer) command()           {}
func (CancelTimer) command()          {}
func (StartPresence) command()        {}
func (StopPresence) command()         {}
func (Greet) command()                {}

func summaryItems(lines []cart.SummaryLine) []fridge.HandleItem {
	out := make([]fridge.HandleItem, 0, len(lines))
	for _, l := range lines {
		out = append(out, fridge.HandleItem{Name: l.Name, Qty: l.Qty})
	}
	return out
}

func saleLines(lines []cart.Line) []fridge.SaleLine {
	out := make([]fridge.SaleLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, fridge.SaleLine{
			InventoryID: l.Item.ID,
			Name:        l.Item.Name,
			Qty:         l.Quantity,
			LineTotal:   l.Total(),
		})
	}
	return out
}
