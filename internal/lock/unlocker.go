package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openfridge/fridge/internal/clock"
	"github.com/openfridge/fridge/internal/fridge"
	"github.com/openfridge/fridge/internal/redisx"
)

// Hold is the active unlock window mirrored in redis.
type Hold struct {
	MachineID        string             `json:"machine_id"`
	Trigger          fridge.DoorTrigger `json:"trigger"`
	PaymentReference *string            `json:"payment_reference,omitempty"`
	ExpiresAt        time.Time          `json:"expires_at"`
}

type Unlocker struct {
	Client *Client
	Clock  clock.Clock
	Redis  *redis.Client
	Log    *zap.Logger
}

// Unlock never returns an error: every failure is reported in the outcome
// so a recorded sale is never undone by a lock problem.
func (u *Unlocker) Unlock(ctx context.Context, m fridge.Machine, trigger fridge.DoorTrigger, ref *string) fridge.LockOutcome {
	if !m.Lock.Enabled {
		return fridge.LockOutcome{}
	}
	target := Target{URL: m.Lock.APIURL, APIKey: m.Lock.APIKey}
	if target.URL == "" {
		return failed(ErrNotConfigured)
	}

	d := m.Lock.Duration()
	expires := u.Clock.Now().Add(d).UTC()
	err := u.Client.Trigger(ctx, target, Command{
		Action:    ActionUnlock,
		MachineID: m.ID,
		Duration:  int(d / time.Second),
	})
	if err != nil {
		u.Log.Warn("unlock failed", zap.String("machine_id", m.ID), zap.Error(err))
		return failed(err)
	}
	u.Log.Info("machine unlocked", zap.String("machine_id", m.ID), zap.Duration("hold", d))

	u.scheduleRelock(target, m.ID, d)
	if u.Redis != nil {
		hold := Hold{MachineID: m.ID, Trigger: trigger, PaymentReference: ref, ExpiresAt: expires}
		if err := redisx.SetJSON(ctx, u.Redis, fmt.Sprintf(redisx.KeyLockHold, m.ID), hold, d); err != nil {
			u.Log.Warn("lock hold cache failed", zap.String("machine_id", m.ID), zap.Error(err))
		}
	}
	return fridge.LockOutcome{Unlocked: true, ExpiresAt: &expires}
}

// scheduleRelock fires after the hold; failures are only logged.
func (u *Unlocker) scheduleRelock(t Target, machineID string, after time.Duration) {
	u.Clock.AfterFunc(after, func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
		defer cancel()
		if err := u.Client.Trigger(ctx, t, Command{Action: ActionLock, MachineID: machineID}); err != nil {
			u.Log.Error("re-lock failed", zap.String("machine_id", machineID), zap.Error(err))
			return
		}
		u.Log.Info("machine re-locked", zap.String("machine_id", machineID))
	})
}

// ActiveHold reads the current hold, if any.
func (u *Unlocker) ActiveHold(ctx context.Context, machineID string) (Hold, bool, error) {
	var h Hold
	if u.Redis == nil {
		return h, false, nil
	}
	found, err := redisx.GetJSON(ctx, u.Redis, fmt.Sprintf(redisx.KeyLockHold, machineID), &h)
	return h, found, err
}

func failed(err error) fridge.LockOutcome {
	msg := err.Error()
	return fridge.LockOutcome{Error: &msg}
}
