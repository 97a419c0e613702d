// Package checkout is the kiosk's session state machine. Machine is pure:
// Dispatch folds one Event into the session and returns the Commands the
// runtime must execute. Async work (payment handles, settlement) and
// timers carry a token; results whose token is not the one currently
// awaited are stale and ignored.
package checkout

import (
	"time"

	"github.com/openfridge/fridge/internal/cart"
	"github.com/openfridge/fridge/internal/fridge"
)

type Config struct {
	MachineID         string
	MachineName       string
	InactivityTimeout time.Duration
	ReceiptCountdown  time.Duration
	ContactTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = 90 * time.Second
	}
	if c.ReceiptCountdown <= 0 {
		c.ReceiptCountdown = 15 * time.Second
	}
	if c.ContactTimeout <= 0 {
		c.ContactTimeout = 60 * time.Second
	}
	return c
}

type Machine struct {
	cfg  Config
	step Step
	cart *cart.Cart

	method        fridge.PaymentMethod
	pendingHandle uint64
	handle        *fridge.PaymentHandle
	paid          *fridge.PaymentHandle

	contact   fridge.Contact
	settleReq *fridge.SettleRequest
	settling  uint64
	result    *fridge.SettleResult

	err    *Error
	timers map[Timer]uint64
	seq    uint64
}

func NewMachine(cfg Config) *Machine {
	return &Machine{
		cfg:    cfg.withDefaults(),
		step:   StepIdle,
		cart:   &cart.Cart{},
		timers: map[Timer]uint64{},
	}
}

// Start returns the commands that bring up an idle kiosk.
func (m *Machine) Start() []Command {
	return []Command{StartPresence{}}
}

func (m *Machine) Step() Step { return m.step }

func (m *Machine) Dispatch(ev Event) []Command {
	var out []Command
	reentered := false

	switch e := ev.(type) {
	case PresenceDetected:
		if m.step == StepIdle {
			out = append(out, Greet{MachineName: m.cfg.MachineName})
			reentered = m.goTo(StepBrowse, &out)
		}
	case Activate:
		if m.step == StepIdle {
			reentered = m.goTo(StepBrowse, &out)
		}

	case AddItem:
		if m.editable() && m.cart.Add(e.Item) {
			m.err = nil
		}
	case UpdateQuantity:
		if m.editable() && m.cart.UpdateQuantity(e.ItemID, e.Delta) {
			m.err = nil
		}
	case RemoveItem:
		if m.editable() && m.cart.Remove(e.ItemID) {
			m.err = nil
		}

	case BeginCheckout:
		if m.step != StepBrowse || m.pendingHandle != 0 || m.cart.Empty() || !e.Method.Valid() {
			break
		}
		if !m.cart.Total().IsPositive() {
			break
		}
		m.method = e.Method
		m.requestHandle(&out)
	case PaymentHandleReady:
		if e.Token == 0 || e.Token != m.pendingHandle {
			break
		}
		m.pendingHandle = 0
		h := e.Handle
		switch m.step {
		case StepBrowse:
			m.handle = &h
			m.goTo(StepPayment, &out)
		case StepPayment:
			m.handle = &h
		}
	case PaymentHandleFailed:
		if e.Token == 0 || e.Token != m.pendingHandle {
			break
		}
		m.pendingHandle = 0
		m.err = &Error{Kind: ErrHandle, Message: e.Err}

	case PaymentSucceeded:
		if m.step != StepPayment || m.handle == nil || m.handle.Reference != e.Reference {
			break
		}
		m.paid = m.handle
		m.handle = nil
		m.err = nil
		m.goTo(StepContact, &out)
	case PaymentFailed:
		if m.step != StepPayment || m.handle == nil || m.handle.Reference != e.Reference {
			break
		}
		m.handle = nil
		msg := e.Message
		if msg == "" {
			msg = "payment " + e.Outcome
		}
		m.err = &Error{Kind: ErrPayment, Message: msg}
	case RetryPayment:
		if m.step != StepPayment || m.handle != nil || m.pendingHandle != 0 {
			break
		}
		if e.Method != "" {
			if !e.Method.Valid() {
				break
			}
			m.method = e.Method
		}
		m.requestHandle(&out)

	case Back:
		reentered = m.back(&out)

	case SubmitContact:
		if m.step == StepContact && m.settling == 0 {
			if m.settleReq == nil {
				m.contact = e.Contact
			}
			m.settle(&out)
		}
	case SkipContact:
		if m.step == StepContact && m.settling == 0 {
			m.settle(&out)
		}
	case SettlementSucceeded:
		if e.Token == 0 || e.Token != m.settling || m.step != StepContact {
			break
		}
		m.settling = 0
		if !e.Result.Success {
			m.err = &Error{Kind: ErrSettlement, Message: "settlement not confirmed"}
			break
		}
		r := e.Result
		m.result = &r
		m.err = nil
		m.goTo(StepReceipt, &out)
	case SettlementFailed:
		if e.Token == 0 || e.Token != m.settling {
			break
		}
		m.settling = 0
		m.err = &Error{Kind: ErrSettlement, Message: e.Err}
	case RetrySettlement:
		if m.step == StepContact && m.settling == 0 && m.settleReq != nil {
			m.settle(&out)
		}

	case NewOrder:
		if m.step == StepReceipt {
			m.goTo(StepIdle, &out)
		}

	case TimerFired:
		if tok, ok := m.timers[e.Timer]; !ok || tok != e.Token {
			break
		}
		delete(m.timers, e.Timer)
		m.timerFired(e.Timer, &out)
	}

	m.syncInactivity(reentered, &out)
	return out
}

func (m *Machine) editable() bool {
	return m.step == StepBrowse && m.pendingHandle == 0
}

func (m *Machine) next() uint64 {
	m.seq++
	return m.seq
}

func (m *Machine) requestHandle(out *[]Command) {
	m.pendingHandle = m.next()
	m.err = nil
	*out = append(*out, RequestPaymentHandle{
		Token: m.pendingHandle,
		Request: fridge.HandleRequest{
			Method:    m.method,
			Amount:    m.cart.Total(),
			MachineID: m.cfg.MachineID,
			Items:     summaryItems(m.cart.Summary()),
		},
	})
}

// settle sends the settlement payload. The payload is frozen on the first
// attempt so every retry is byte-for-byte the same request.
func (m *Machine) settle(out *[]Command) {
	if m.paid == nil {
		return
	}
	if m.settleReq == nil {
		req := fridge.SettleRequest{
			PaymentReference: m.paid.Reference,
			MachineID:        m.cfg.MachineID,
			Method:           m.paid.Method,
			Lines:            saleLines(m.cart.Lines()),
		}
		if req.Method == "" {
			req.Method = m.method
		}
		if !m.contact.Empty() {
			c := m.contact
			req.Contact = &c
		}
		m.settleReq = &req
	}
	m.disarm(TimerContact, out)
	m.settling = m.next()
	m.err = nil
	*out = append(*out, Settle{Token: m.settling, Request: *m.settleReq})
}

// back returns true when it re-entered browse.
func (m *Machine) back(out *[]Command) bool {
	switch m.step {
	case StepBrowse:
		// Abandon an in-flight handle request; its late result is stale.
		m.pendingHandle = 0
	case StepPayment:
		m.pendingHandle = 0
		m.handle = nil
		m.err = nil
		return m.goTo(StepBrowse, out)
	case StepContact:
		// A captured payment must settle; the customer can only skip.
		if m.paid != nil {
			return false
		}
		return m.goTo(StepBrowse, out)
	}
	return false
}

func (m *Machine) timerFired(t Timer, out *[]Command) {
	switch t {
	case TimerInactivity:
		if m.step == StepBrowse && m.cart.Empty() {
			m.goTo(StepIdle, out)
		}
	case TimerReceipt:
		if m.step == StepReceipt {
			m.goTo(StepIdle, out)
		}
	case TimerContact:
		if m.step == StepContact && m.settling == 0 && m.settleReq == nil {
			m.settle(out)
		}
	}
}

// goTo performs a table-checked transition and its entry/exit effects.
// It returns true when the new step is browse.
func (m *Machine) goTo(next Step, out *[]Command) bool {
	if !CanTransition(m.step, next) {
		return false
	}
	prev := m.step
	m.step = next

	if prev == StepIdle {
		*out = append(*out, StopPresence{})
	}
	switch prev {
	case StepContact:
		m.disarm(TimerContact, out)
	case StepReceipt:
		m.disarm(TimerReceipt, out)
	}

	switch next {
	case StepIdle:
		m.reset(out)
	case StepContact:
		m.arm(TimerContact, m.cfg.ContactTimeout, out)
	case StepReceipt:
		m.arm(TimerReceipt, m.cfg.ReceiptCountdown, out)
	}
	return next == StepBrowse
}

// reset clears every piece of session state and restarts presence.
func (m *Machine) reset(out *[]Command) {
	for t := range m.timers {
		*out = append(*out, CancelTimer{Timer: t})
	}
	m.timers = map[Timer]uint64{}
	m.cart = &cart.Cart{}
	m.method = ""
	m.pendingHandle = 0
	m.handle = nil
	m.paid = nil
	m.contact = fridge.Contact{}
	m.settleReq = nil
	m.settling = 0
	m.result = nil
	m.err = nil
	*out = append(*out, StartPresence{})
}

func (m *Machine) arm(t Timer, d time.Duration, out *[]Command) {
	tok := m.next()
	m.timers[t] = tok
	*out = append(*out, StartTimer{Timer: t, Token: tok, After: d})
}

func (m *Machine) disarm(t Timer, out *[]Command) {
	if _, ok := m.timers[t]; !ok {
		return
	}
	delete(m.timers, t)
	*out = append(*out, CancelTimer{Timer: t})
}

// syncInactivity keeps the inactivity timer armed exactly while the
// session sits in browse with an empty cart. Every re-entry into browse
// restarts the full timeout.
func (m *Machine) syncInactivity(reentered bool, out *[]Command) {
	want := m.step == StepBrowse && m.cart.Empty() && m.pendingHandle == 0
	_, armed := m.timers[TimerInactivity]
	switch {
	case want && (reentered || !armed):
		m.arm(TimerInactivity, m.cfg.InactivityTimeout, out)
	case !want && armed:
		m.disarm(TimerInactivity, out)
	}
}

// View is a read-only copy of the session for the display.
type View struct {
	Step           Step                  `json:"step"`
	Lines          []cart.Line           `json:"lines"`
	Capped         []string              `json:"capped,omitempty"` // item ids whose tile is disabled
	Total          string                `json:"total"`
	Count          int                   `json:"count"`
	Method         fridge.PaymentMethod  `json:"method,omitempty"`
	AwaitingHandle bool                  `json:"awaiting_handle"`
	Handle         *fridge.PaymentHandle `json:"handle,omitempty"`
	Contact        fridge.Contact        `json:"contact"`
	Settling       bool                  `json:"settling"`
	Result         *fridge.SettleResult  `json:"result,omitempty"`
	Error          *Error                `json:"error,omitempty"`
}

func (m *Machine) View() View {
	v := View{
		Step:           m.step,
		Lines:          m.cart.Lines(),
		Total:          m.cart.Total().StringFixed(2),
		Count:          m.cart.Count(),
		Method:         m.method,
		AwaitingHandle: m.pendingHandle != 0,
		Contact:        m.contact,
		Settling:       m.settling != 0,
	}
	for _, l := range v.Lines {
		if m.cart.AtCap(l.Item.ID) {
			v.Capped = append(v.Capped, l.Item.ID)
		}
	}
	if m.handle != nil {
		h := *m.handle
		v.Handle = &h
	}
	if m.result != nil {
		r := *m.result
		v.Result = &r
	}
	if m.err != nil {
		e := *m.err
		v.Error = &e
	}
	return v
}
