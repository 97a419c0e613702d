// Package settlement records a paid cart exactly once and opens the door.
//
// The sale rows and every stock decrement commit in one transaction keyed
// by the payment reference. Only after that commit is the lock triggered;
// a lock failure is reported in the result and never rolls the sale back.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/openfridge/fridge/internal/clock"
	"github.com/openfridge/fridge/internal/fridge"
	kafkax "github.com/openfridge/fridge/internal/kafka"
	"github.com/openfridge/fridge/internal/redisx"
)

var (
	ErrPaymentNotVerified = errors.New("payment not verified")
	// ErrInProgress means another request holds the settlement for this
	// reference; retrying after it finishes returns the stored result.
	ErrInProgress = errors.New("settlement in progress")
)

type Store interface {
	GetMachine(ctx context.Context, id string) (fridge.Machine, error)
	RecordSale(ctx context.Context, in fridge.RecordSaleInput) (fridge.RecordSaleResult, error)
	CompleteSettlement(ctx context.Context, ref string, lock fridge.LockOutcome, at time.Time) error
	InsertDoorAccess(ctx context.Context, ev fridge.DoorAccessEvent) error
}

type Unlocker interface {
	Unlock(ctx context.Context, m fridge.Machine, trigger fridge.DoorTrigger, ref *string) fridge.LockOutcome
}

// Verifier confirms with the provider that ref was paid in full.
type Verifier interface {
	Verify(ctx context.Context, m fridge.PaymentMethod, ref string, amountCents int64) error
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// PGStore joins the two Postgres repositories into a Store.
type PGStore struct {
	*fridge.Repo
	*fridge.SettlementRepo
}

type Service struct {
	Store    Store
	Unlocker Unlocker
	Verifier Verifier // nil skips provider verification
	Redis    *redis.Client
	Sales    Publisher
	Doors    Publisher
	Clock    clock.Clock
	Log      *zap.Logger
	Producer string
}

// Settle is idempotent per payment reference: a replay returns the stored
// result and performs no writes, and a settlement interrupted after its
// commit resumes at the lock step.
func (s *Service) Settle(ctx context.Context, req fridge.SettleRequest) (fridge.SettleResult, error) {
	if err := Validate(req); err != nil {
		return fridge.SettleResult{}, err
	}
	log := s.Log.With(zap.String("payment_reference", req.PaymentReference), zap.String("machine_id", req.MachineID))

	idemKey := fmt.Sprintf(redisx.KeyIdemSettle, req.PaymentReference)
	if s.Redis != nil {
		var cached fridge.SettleResult
		found, err := redisx.GetJSON(ctx, s.Redis, idemKey, &cached)
		if err != nil {
			log.Warn("settlement cache read failed", zap.Error(err))
		}
		if found {
			cached.Replayed = true
			return cached, nil
		}
	}

	machine, err := s.Store.GetMachine(ctx, req.MachineID)
	if err != nil {
		return fridge.SettleResult{}, fmt.Errorf("machine %s: %w", req.MachineID, err)
	}

	amount := fridge.Cents(req.Amount())
	if s.Verifier != nil {
		if err := s.Verifier.Verify(ctx, req.Method, req.PaymentReference, amount); err != nil {
			return fridge.SettleResult{}, fmt.Errorf("%w: %v", ErrPaymentNotVerified, err)
		}
	}

	release, err := s.claim(ctx, log, req.PaymentReference)
	if err != nil {
		return fridge.SettleResult{}, err
	}
	defer release()

	rec, err := s.Store.RecordSale(ctx, fridge.RecordSaleInput{
		PaymentReference: req.PaymentReference,
		MachineID:        req.MachineID,
		Method:           req.Method,
		AmountCents:      amount,
		Lines:            req.Lines,
		SoldAt:           s.Clock.Now().UTC(),
	})
	if err != nil {
		return fridge.SettleResult{}, fmt.Errorf("record sale: %w", err)
	}

	if rec.Existed {
		if rec.Settlement.MachineID != req.MachineID {
			return fridge.SettleResult{}, fmt.Errorf("%w: payment reference already used on another machine", fridge.ErrInvalidRequest)
		}
		if rec.Settlement.CompletedAt != nil {
			res := fridge.SettleResult{Success: true, OrderID: req.PaymentReference, Lock: rec.Settlement.Lock, Replayed: true}
			s.cache(ctx, log, idemKey, res)
			return res, nil
		}
		log.Info("resuming settlement at lock step")
	}

	ref := req.PaymentReference
	outcome := s.Unlocker.Unlock(ctx, machine, fridge.TriggerPurchase, &ref)
	now := s.Clock.Now().UTC()
	if outcome.Unlocked {
		if err := s.Store.InsertDoorAccess(ctx, fridge.DoorAccessEvent{
			ID:               uuid.NewString(),
			MachineID:        req.MachineID,
			PaymentReference: &ref,
			Trigger:          fridge.TriggerPurchase,
			OpenedAt:         now,
		}); err != nil {
			log.Error("door access log failed", zap.Error(err))
		}
	}

	res := fridge.SettleResult{Success: true, OrderID: req.PaymentReference, Lock: outcome, Replayed: rec.Existed}
	if err := s.Store.CompleteSettlement(ctx, req.PaymentReference, outcome, now); err != nil {
		log.Error("settlement completion failed", zap.Error(err))
	} else {
		s.cache(ctx, log, idemKey, res)
	}

	if !rec.Existed {
		s.publish(s.Sales, fridge.EventSaleSettled, req.MachineID, req.PaymentReference, fridge.SaleSettledPayload{
			PaymentReference: req.PaymentReference,
			MachineID:        req.MachineID,
			PaymentMethod:    req.Method,
			AmountCents:      amount,
			Lines:            rec.Lines,
			Contact:          req.Contact,
		})
	}
	if outcome.Unlocked {
		s.publishDoor(req.MachineID, ref, fridge.TriggerPurchase, outcome)
	}

	log.Info("sale settled",
		zap.Int64("amount_cents", amount),
		zap.Int("lines", len(req.Lines)),
		zap.Bool("unlocked", outcome.Unlocked))
	return res, nil
}

// UnlockManual opens the door without a sale.
func (s *Service) UnlockManual(ctx context.Context, machineID string) (fridge.LockOutcome, error) {
	if machineID == "" {
		return fridge.LockOutcome{}, fmt.Errorf("%w: machine id is required", fridge.ErrInvalidRequest)
	}
	machine, err := s.Store.GetMachine(ctx, machineID)
	if err != nil {
		return fridge.LockOutcome{}, fmt.Errorf("machine %s: %w", machineID, err)
	}
	outcome := s.Unlocker.Unlock(ctx, machine, fridge.TriggerManual, nil)
	if !outcome.Unlocked {
		return outcome, nil
	}
	if err := s.Store.InsertDoorAccess(ctx, fridge.DoorAccessEvent{
		ID:        uuid.NewString(),
		MachineID: machineID,
		Trigger:   fridge.TriggerManual,
		OpenedAt:  s.Clock.Now().UTC(),
	}); err != nil {
		s.Log.Error("door access log failed", zap.String("machine_id", machineID), zap.Error(err))
	}
	s.publishDoor(machineID, "", fridge.TriggerManual, outcome)
	return outcome, nil
}

// claim serializes settlement per payment reference so a resume cannot
// trigger the lock while the first attempt is still running. Without redis,
// or when redis is unreachable, the sale transaction is the only guard.
func (s *Service) claim(ctx context.Context, log *zap.Logger, ref string) (release func(), err error) {
	noop := func() {}
	if s.Redis == nil {
		return noop, nil
	}
	key := fmt.Sprintf(redisx.KeySettleInFlight, ref)
	ok, err := redisx.MarkOnce(ctx, s.Redis, key, redisx.TTLSettleClaim)
	if err != nil {
		log.Warn("settlement claim failed", zap.Error(err))
		return noop, nil
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInProgress, ref)
	}
	return func() {
		if err := s.Redis.Del(context.WithoutCancel(ctx), key).Err(); err != nil {
			log.Warn("settlement claim release failed", zap.Error(err))
		}
	}, nil
}

func (s *Service) cache(ctx context.Context, log *zap.Logger, key string, res fridge.SettleResult) {
	if s.Redis == nil {
		return
	}
	res.Replayed = false
	if err := redisx.SetJSON(ctx, s.Redis, key, res, redisx.TTLIdempotency); err != nil {
		log.Warn("settlement cache write failed", zap.Error(err))
	}
}

func (s *Service) publishDoor(machineID, ref string, trigger fridge.DoorTrigger, outcome fridge.LockOutcome) {
	p := fridge.DoorUnlockedPayload{MachineID: machineID, PaymentReference: ref, Trigger: trigger}
	if outcome.ExpiresAt != nil {
		p.ExpiresAt = *outcome.ExpiresAt
	}
	correlation := ref
	if correlation == "" {
		correlation = machineID
	}
	s.publish(s.Doors, fridge.EventDoorUnlocked, machineID, correlation, p)
}

func (s *Service) publish(p Publisher, eventType, machineID, correlation string, payload any) {
	if p == nil {
		return
	}
	ev := fridge.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    s.Clock.Now().UTC(),
		Producer:      s.Producer,
		CorrelationID: correlation,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(fridge.PartitionKey(machineID), kafkax.MustMarshal(ev), kafkax.EventHeaders(eventType)...)
}

// Validate rejects a request before anything touches storage.
func Validate(req fridge.SettleRequest) error {
	switch {
	case req.PaymentReference == "":
		return fmt.Errorf("%w: payment_reference is required", fridge.ErrInvalidRequest)
	case req.MachineID == "":
		return fmt.Errorf("%w: machine_id is required", fridge.ErrInvalidRequest)
	case !fridge.ValidID(req.MachineID):
		return fmt.Errorf("%w: machine_id %q", fridge.ErrInvalidRequest, req.MachineID)
	case !req.Method.Valid():
		return fmt.Errorf("%w: unknown payment_method %q", fridge.ErrInvalidRequest, req.Method)
	case len(req.Lines) == 0:
		return fmt.Errorf("%w: lines are required", fridge.ErrInvalidRequest)
	}
	for _, l := range req.Lines {
		if !fridge.ValidID(l.InventoryID) {
			return fmt.Errorf("%w: inventory_id %q", fridge.ErrInvalidRequest, l.InventoryID)
		}
		if l.Qty < 1 {
			return fmt.Errorf("%w: qty must be positive", fridge.ErrInvalidRequest)
		}
		if l.LineTotal.IsNegative() {
			return fmt.Errorf("%w: negative line_total", fridge.ErrInvalidRequest)
		}
	}
	return nil
}
