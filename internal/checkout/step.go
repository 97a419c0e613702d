package checkout

type Step string

const (
	StepIdle    Step = "idle"
	StepBrowse  Step = "browse"
	StepPayment Step = "payment"
	StepContact Step = "contact"
	StepReceipt Step = "receipt"
)

// Receipt only leaves through a reset to idle, and nothing re-enters
// payment except from browse, so a consumed handle is never revisited.
var validNext = map[Step]map[Step]bool{
	StepIdle:    {StepBrowse: true},
	StepBrowse:  {StepPayment: true, StepIdle: true},
	StepPayment: {StepContact: true, StepBrowse: true},
	StepContact: {StepReceipt: true, StepBrowse: true},
	StepReceipt: {StepIdle: true},
}

func CanTransition(from, to Step) bool {
	return validNext[from][to]
}

type Timer string

const (
	TimerInactivity Timer = "inactivity"
	TimerReceipt    Timer = "receipt"
	TimerContact    Timer = "contact"
)

type ErrorKind string

const (
	// ErrHandle: the provider could not issue a payment handle. Safe to retry.
	ErrHandle ErrorKind = "handle"
	// ErrPayment: the provider reported a non-success outcome. No money moved.
	ErrPayment ErrorKind = "payment"
	// ErrSettlement: paid but the sale is not confirmed recorded. Blocking.
	ErrSettlement ErrorKind = "settlement"
)

type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }
