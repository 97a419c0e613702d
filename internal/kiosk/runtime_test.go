package kiosk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openfridge/fridge/internal/cart"
	"github.com/openfridge/fridge/internal/checkout"
	"github.com/openfridge/fridge/internal/clock"
	"github.com/openfridge/fridge/internal/fridge"
	"github.com/openfridge/fridge/internal/payment"
	"github.com/openfridge/fridge/internal/presence"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

var coldBrew = cart.Item{ID: "a", Name: "Cold Brew", Price: decimal.RequireFromString("4.99"), Stock: 3}

type fakeAPI struct {
	mu        sync.Mutex
	handleErr error
	settleErr error
	status    payment.Status
	handles   []fridge.HandleRequest
	settled   []fridge.SettleRequest
}

func (f *fakeAPI) CreateHandle(_ context.Context, req fridge.HandleRequest) (fridge.PaymentHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handles = append(f.handles, req)
	if f.handleErr != nil {
		return fridge.PaymentHandle{}, f.handleErr
	}
	return fridge.PaymentHandle{Method: req.Method, Reference: "pi_1", ClientSecret: "pi_1_secret"}, nil
}

func (f *fakeAPI) Settle(_ context.Context, req fridge.SettleRequest) (fridge.SettleResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settled = append(f.settled, req)
	if f.settleErr != nil {
		return fridge.SettleResult{}, f.settleErr
	}
	return fridge.SettleResult{Success: true, OrderID: req.PaymentReference, Lock: fridge.LockOutcome{Unlocked: true}}, nil
}

func (f *fakeAPI) PaymentStatus(_ context.Context, _ fridge.PaymentMethod, ref string) (payment.PaymentStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.status
	if st == "" {
		st = payment.StatusPending
	}
	return payment.PaymentStatus{Reference: ref, Status: st}, nil
}

func (f *fakeAPI) settleRequests() []fridge.SettleRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fridge.SettleRequest(nil), f.settled...)
}

func newRuntime(t *testing.T, api Backend, clk clock.Clock) *Runtime {
	t.Helper()
	rt := &Runtime{
		Machine: checkout.NewMachine(checkout.Config{MachineID: "m-1", MachineName: "Lobby"}),
		API:     api,
		Clock:   clk,
		Log:     zap.NewNop(),
	}
	rt.Start(context.Background())
	t.Cleanup(rt.Stop)
	return rt
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitStep(t *testing.T, rt *Runtime, want checkout.Step) {
	t.Helper()
	waitFor(t, "step "+string(want), func() bool { return rt.Snapshot().Step == want })
}

func TestFullSessionToReceiptAndBack(t *testing.T) {
	clk := clock.Fake(t0)
	api := &fakeAPI{}
	rt := newRuntime(t, api, clk)

	rt.Dispatch(checkout.Activate{})
	rt.Dispatch(checkout.AddItem{Item: coldBrew})
	rt.Dispatch(checkout.AddItem{Item: coldBrew})
	snap := rt.Dispatch(checkout.BeginCheckout{Method: fridge.PaymentCard})
	if !snap.AwaitingHandle {
		t.Fatal("handle request not pending")
	}

	waitStep(t, rt, checkout.StepPayment)
	if h := rt.Snapshot().Handle; h == nil || h.ClientSecret != "pi_1_secret" {
		t.Fatalf("handle = %+v", h)
	}

	rt.Dispatch(checkout.PaymentSucceeded{Reference: "pi_1"})
	rt.Dispatch(checkout.SkipContact{})
	waitStep(t, rt, checkout.StepReceipt)

	reqs := api.settleRequests()
	if len(reqs) != 1 || reqs[0].Lines[0].Qty != 2 || !reqs[0].Amount().Equal(decimal.RequireFromString("9.98")) {
		t.Fatalf("settle requests = %+v", reqs)
	}
	snap = rt.Snapshot()
	if snap.Result == nil || !snap.Result.Lock.Unlocked || snap.ReceiptSeconds != 15 {
		t.Fatalf("receipt snapshot = %+v", snap)
	}

	clk.Advance(5 * time.Second)
	if got := rt.Snapshot().ReceiptSeconds; got != 10 {
		t.Errorf("ReceiptSeconds = %d, want 10", got)
	}
	clk.Advance(10 * time.Second)
	snap = rt.Snapshot()
	if snap.Step != checkout.StepIdle || snap.Count != 0 || snap.Result != nil {
		t.Errorf("after countdown = %+v", snap)
	}
}

func TestHandleFailureIsShown(t *testing.T) {
	api := &fakeAPI{handleErr: &APIError{Status: 400, Message: "amount must be positive"}}
	rt := newRuntime(t, api, clock.Fake(t0))

	rt.Dispatch(checkout.Activate{})
	rt.Dispatch(checkout.AddItem{Item: coldBrew})
	rt.Dispatch(checkout.BeginCheckout{Method: fridge.PaymentCard})

	waitFor(t, "handle error", func() bool { return rt.Snapshot().Error != nil })
	snap := rt.Snapshot()
	if snap.Step != checkout.StepBrowse || snap.Error.Kind != checkout.ErrHandle || snap.Error.Message != "amount must be positive" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestSettlementFailureThenRetry(t *testing.T) {
	api := &fakeAPI{settleErr: context.DeadlineExceeded}
	rt := newRuntime(t, api, clock.Fake(t0))

	rt.Dispatch(checkout.Activate{})
	rt.Dispatch(checkout.AddItem{Item: coldBrew})
	rt.Dispatch(checkout.BeginCheckout{Method: fridge.PaymentCard})
	waitStep(t, rt, checkout.StepPayment)
	rt.Dispatch(checkout.PaymentSucceeded{Reference: "pi_1"})
	rt.Dispatch(checkout.SubmitContact{Contact: fridge.Contact{Email: "a@b.c"}})

	waitFor(t, "settlement error", func() bool { return rt.Snapshot().Error != nil })
	if e := rt.Snapshot().Error; e.Kind != checkout.ErrSettlement || e.Message != "request timed out" {
		t.Fatalf("error = %+v", e)
	}

	api.mu.Lock()
	api.settleErr = nil
	api.mu.Unlock()
	rt.Dispatch(checkout.RetrySettlement{})
	waitStep(t, rt, checkout.StepReceipt)

	reqs := api.settleRequests()
	if len(reqs) != 2 || reqs[1].Contact == nil || reqs[1].Contact.Email != "a@b.c" {
		t.Errorf("retry payload = %+v", reqs)
	}
}

func TestPollerReportsProviderOutcome(t *testing.T) {
	clk := clock.Fake(t0)
	api := &fakeAPI{status: payment.StatusSucceeded}
	rt := &Runtime{
		Machine:      checkout.NewMachine(checkout.Config{MachineID: "m-1"}),
		API:          api,
		Clock:        clk,
		PollInterval: 2 * time.Second,
	}
	rt.Start(context.Background())
	t.Cleanup(rt.Stop)

	rt.Dispatch(checkout.Activate{})
	rt.Dispatch(checkout.AddItem{Item: coldBrew})
	rt.Dispatch(checkout.BeginCheckout{Method: fridge.PaymentCrypto})
	waitStep(t, rt, checkout.StepPayment)

	waitFor(t, "poll ticker", func() bool { return clk.Pending() > 0 })
	clk.Advance(2 * time.Second)
	waitStep(t, rt, checkout.StepContact)
}

func TestPresenceLoopGreetsAndStops(t *testing.T) {
	clk := clock.Fake(t0)
	src := presence.NewPushSource(clk, 0)
	rt := &Runtime{
		Machine:  checkout.NewMachine(checkout.Config{MachineID: "m-1", MachineName: "Lobby"}),
		API:      &fakeAPI{},
		Clock:    clk,
		Detector: presence.NewDetector(clk, presence.DefaultInterval, nil, presence.FaceStrategy{Counter: src}),
		Greeter:  presence.NewGreeter(clk, nil),
	}
	rt.Start(context.Background())
	t.Cleanup(rt.Stop)

	if !rt.Snapshot().Listening {
		t.Fatal("presence loop not started in idle")
	}
	waitFor(t, "detector ticker", func() bool { return clk.Pending() > 0 })
	src.PushFaces(1)
	clk.Advance(presence.DefaultInterval)

	waitStep(t, rt, checkout.StepBrowse)
	snap := rt.Snapshot()
	if snap.Listening || snap.Greeting == "" {
		t.Errorf("browse snapshot = %+v", snap)
	}

	clk.Advance(90 * time.Second)
	snap = rt.Snapshot()
	if snap.Step != checkout.StepIdle || !snap.Listening || snap.Greeting != "" {
		t.Errorf("after inactivity = %+v", snap)
	}
}

func TestDispatchAfterStopIsDropped(t *testing.T) {
	rt := &Runtime{Machine: checkout.NewMachine(checkout.Config{}), API: &fakeAPI{}, Clock: clock.Fake(t0)}
	rt.Start(context.Background())
	rt.Stop()
	if snap := rt.Dispatch(checkout.Activate{}); snap.Step != checkout.StepIdle {
		t.Errorf("step = %s after Stop", snap.Step)
	}
}

func TestDisplayError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{context.DeadlineExceeded, "request timed out"},
		{&APIError{Status: 402, Message: "payment not verified"}, "payment not verified"},
		{&APIError{Status: 502}, "api error: 502"},
		{errors.New("dial tcp: refused"), "dial tcp: refused"},
	}
	for _, tt := range tests {
		if got := displayError(tt.err); got != tt.want {
			t.Errorf("displayError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
