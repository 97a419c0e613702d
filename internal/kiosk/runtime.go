// Package kiosk runs one checkout session on the fridge's tablet. Runtime
// feeds events into a checkout.Machine and executes the commands it
// returns; the display talks to it over HTTP.
package kiosk

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openfridge/fridge/internal/checkout"
	"github.com/openfridge/fridge/internal/clock"
	"github.com/openfridge/fridge/internal/fridge"
	"github.com/openfridge/fridge/internal/payment"
	"github.com/openfridge/fridge/internal/presence"
)

const (
	DefaultHandleTimeout = 5 * time.Second
	DefaultSettleTimeout = 10 * time.Second
)

// Backend is the part of the fridge API the session needs.
type Backend interface {
	CreateHandle(ctx context.Context, req fridge.HandleRequest) (fridge.PaymentHandle, error)
	Settle(ctx context.Context, req fridge.SettleRequest) (fridge.SettleResult, error)
	PaymentStatus(ctx context.Context, m fridge.PaymentMethod, reference string) (payment.PaymentStatus, error)
}

// Runtime serialises every Dispatch under one mutex. Async results and
// timer callbacks re-enter through Dispatch, so the machine never sees
// two events at once.
type Runtime struct {
	Machine  *checkout.Machine
	API      Backend
	Clock    clock.Clock
	Detector *presence.Detector
	Greeter  *presence.Greeter
	Log      *zap.Logger

	HandleTimeout time.Duration
	SettleTimeout time.Duration
	// PollInterval drives payment status polling while a handle is
	// shown. Zero leaves outcomes to the display.
	PollInterval time.Duration

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	timers    map[checkout.Timer]clock.Timer
	deadlines map[checkout.Timer]time.Time
	presence  context.CancelFunc
	pollStop  context.CancelFunc
	polling   string
	greeting  string
	wg        sync.WaitGroup
}

// Snapshot is what the display renders.
type Snapshot struct {
	checkout.View
	Greeting       string `json:"greeting,omitempty"`
	ReceiptSeconds int    `json:"receipt_seconds,omitempty"`
	Listening      bool   `json:"listening"`
}

// Start brings the session up in idle. It is a no-op when already started.
func (r *Runtime) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx != nil {
		return
	}
	if r.Log == nil {
		r.Log = zap.NewNop()
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.timers = map[checkout.Timer]clock.Timer{}
	r.deadlines = map[checkout.Timer]time.Time{}
	r.exec(r.Machine.Start())
}

// Stop cancels timers, the presence loop and in-flight calls, then waits
// for their goroutines.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	for t, tm := range r.timers {
		tm.Stop()
		delete(r.timers, t)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Run starts the session and blocks until ctx is done.
func (r *Runtime) Run(ctx context.Context) error {
	r.Start(ctx)
	<-ctx.Done()
	r.Stop()
	return nil
}

// Dispatch applies ev and returns the resulting snapshot. Events after
// Stop are dropped.
func (r *Runtime) Dispatch(ev checkout.Event) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil || r.ctx.Err() != nil {
		return r.snapshot()
	}
	r.exec(r.Machine.Dispatch(ev))
	r.syncPoll()
	return r.snapshot()
}

func (r *Runtime) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

func (r *Runtime) snapshot() Snapshot {
	s := Snapshot{View: r.Machine.View(), Greeting: r.greeting, Listening: r.presence != nil}
	if s.Step == checkout.StepReceipt {
		if at, ok := r.deadlines[checkout.TimerReceipt]; ok {
			left := math.Ceil(at.Sub(r.Clock.Now()).Seconds())
			s.ReceiptSeconds = int(math.Max(left, 0))
		}
	}
	return s
}

// exec runs with r.mu held.
func (r *Runtime) exec(cmds []checkout.Command) {
	for _, c := range cmds {
		switch c := c.(type) {
		case checkout.RequestPaymentHandle:
			r.requestHandle(c)
		case checkout.Settle:
			r.settle(c)
		case checkout.StartTimer:
			r.startTimer(c)
		case checkout.CancelTimer:
			if tm, ok := r.timers[c.Timer]; ok {
				tm.Stop()
				delete(r.timers, c.Timer)
				delete(r.deadlines, c.Timer)
			}
		case checkout.StartPresence:
			r.startPresence()
		case checkout.StopPresence:
			r.stopPresence()
		case checkout.Greet:
			if r.Greeter != nil {
				if text, ok := r.Greeter.Greet(c.MachineName); ok {
					r.greeting = text
				}
			}
		}
	}
}

func (r *Runtime) requestHandle(c checkout.RequestPaymentHandle) {
	tok, req := c.Token, c.Request
	r.async(orDefault(r.HandleTimeout, DefaultHandleTimeout), func(ctx context.Context) checkout.Event {
		h, err := r.API.CreateHandle(ctx, req)
		if err != nil {
			r.Log.Warn("payment handle failed", zap.String("method", string(req.Method)), zap.Error(err))
			return checkout.PaymentHandleFailed{Token: tok, Err: displayError(err)}
		}
		return checkout.PaymentHandleReady{Token: tok, Handle: h}
	})
}

func (r *Runtime) settle(c checkout.Settle) {
	tok, req := c.Token, c.Request
	r.async(orDefault(r.SettleTimeout, DefaultSettleTimeout), func(ctx context.Context) checkout.Event {
		res, err := r.API.Settle(ctx, req)
		if err != nil {
			r.Log.Error("settlement failed", zap.String("payment_reference", req.PaymentReference), zap.Error(err))
			return checkout.SettlementFailed{Token: tok, Err: displayError(err)}
		}
		r.Log.Info("sale settled",
			zap.String("payment_reference", req.PaymentReference),
			zap.Bool("replayed", res.Replayed),
			zap.Bool("unlocked", res.Lock.Unlocked))
		return checkout.SettlementSucceeded{Token: tok, Result: res}
	})
}

func (r *Runtime) async(timeout time.Duration, call func(ctx context.Context) checkout.Event) {
	ctx, cancel := context.WithTimeout(r.ctx, timeout)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.Dispatch(call(ctx))
	}()
}

func (r *Runtime) startTimer(c checkout.StartTimer) {
	if old, ok := r.timers[c.Timer]; ok {
		old.Stop()
	}
	ev := checkout.TimerFired{Timer: c.Timer, Token: c.Token}
	r.deadlines[c.Timer] = r.Clock.Now().Add(c.After)
	r.timers[c.Timer] = r.Clock.AfterFunc(c.After, func() { r.Dispatch(ev) })
}

// startPresence begins a fresh idle period: the latch, motion baseline and
// greeting are cleared before the loop starts.
func (r *Runtime) startPresence() {
	r.stopPresence()
	r.greeting = ""
	if r.Greeter != nil {
		r.Greeter.Reset()
	}
	if r.Detector == nil {
		return
	}
	r.Detector.Reset()
	ctx, cancel := context.WithCancel(r.ctx)
	r.presence = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = r.Detector.Run(ctx, func() { r.Dispatch(checkout.PresenceDetected{}) })
	}()
}

func (r *Runtime) stopPresence() {
	if r.presence != nil {
		r.presence()
		r.presence = nil
	}
}

// syncPoll keeps exactly one poller on the handle shown in payment.
func (r *Runtime) syncPoll() {
	v := r.Machine.View()
	ref := ""
	if v.Step == checkout.StepPayment && v.Handle != nil {
		ref = v.Handle.Reference
	}
	if ref == r.polling {
		return
	}
	if r.pollStop != nil {
		r.pollStop()
		r.pollStop = nil
	}
	r.polling = ref
	if ref == "" || r.PollInterval <= 0 {
		return
	}
	method := v.Handle.Method
	if method == "" {
		method = v.Method
	}
	ctx, cancel := context.WithCancel(r.ctx)
	r.pollStop = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.poll(ctx, method, ref)
	}()
}

func (r *Runtime) poll(ctx context.Context, method fridge.PaymentMethod, ref string) {
	t := r.Clock.NewTicker(r.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		cctx, cancel := context.WithTimeout(ctx, orDefault(r.HandleTimeout, DefaultHandleTimeout))
		st, err := r.API.PaymentStatus(cctx, method, ref)
		cancel()
		if err != nil {
			r.Log.Debug("payment status poll failed", zap.String("payment_reference", ref), zap.Error(err))
			continue
		}
		switch st.Status {
		case payment.StatusSucceeded:
			r.Dispatch(checkout.PaymentSucceeded{Reference: ref})
			return
		case payment.StatusFailed:
			r.Dispatch(checkout.PaymentFailed{Reference: ref, Outcome: "declined"})
			return
		case payment.StatusCanceled:
			r.Dispatch(checkout.PaymentFailed{Reference: ref, Outcome: "canceled"})
			return
		}
	}
}

func displayError(err error) string {
	var apiErr *APIError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return apiErr.Message
	}
	return err.Error()
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
