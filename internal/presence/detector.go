package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openfridge/fridge/internal/clock"
)

const DefaultInterval = 600 * time.Millisecond

// Detector samples its strategies on a fixed interval. Once someone is
// seen it latches and reports nothing more until Reset.
type Detector struct {
	strategies []Strategy
	clock      clock.Clock
	interval   time.Duration
	log        *zap.Logger

	mu      sync.Mutex
	latched bool
}

func NewDetector(c clock.Clock, interval time.Duration, log *zap.Logger, strategies ...Strategy) *Detector {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{strategies: strategies, clock: c, interval: interval, log: log}
}

// Run polls until ctx is done, calling onPresent once per latch.
func (d *Detector) Run(ctx context.Context, onPresent func()) error {
	t := d.clock.NewTicker(d.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if d.Sample(ctx) {
				onPresent()
			}
		}
	}
}

// Sample runs one detection pass and reports whether it latched.
func (d *Detector) Sample(ctx context.Context) bool {
	d.mu.Lock()
	latched := d.latched
	d.mu.Unlock()
	if latched {
		return false
	}

	present := false
	for _, s := range d.strategies {
		ok, err := s.Detect(ctx)
		if err != nil {
			if !errors.Is(err, ErrUnavailable) {
				d.log.Debug("presence strategy failed", zap.String("strategy", s.Name()), zap.Error(err))
			}
			continue
		}
		present = ok
		break
	}
	if !present {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.latched {
		return false
	}
	d.latched = true
	return true
}

// Reset clears the latch and any motion baseline.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.latched = false
	d.mu.Unlock()
	for _, s := range d.strategies {
		if r, ok := s.(interface{ Reset() }); ok {
			r.Reset()
		}
	}
}

func (d *Detector) Latched() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.latched
}
