// Package restock watches settled sales and flags items that fell to the
// low-stock threshold, so an operator can reorder before the shelf is empty.
package restock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/openfridge/fridge/internal/fridge"
	kafkax "github.com/openfridge/fridge/internal/kafka"
	"github.com/openfridge/fridge/internal/redisx"
)

type ItemSource interface {
	GetInventoryItem(ctx context.Context, id string) (fridge.InventoryItem, error)
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Service struct {
	Items       ItemSource
	Redis       *redis.Client
	Producer    Publisher
	Log         *zap.Logger
	ServiceName string
	Now         func() time.Time
}

// HandleSaleSettled is installed as the consumer handler.
func (s *Service) HandleSaleSettled(ctx context.Context, m kafkago.Message) error {
	if t := kafkax.HeaderValue(m, "x-event-type"); t != "" && t != fridge.EventSaleSettled {
		return nil
	}
	var env fridge.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != fridge.EventSaleSettled {
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, "restock", env.EventID)
	claimed, err := redisx.MarkOnce(ctx, s.Redis, dkey, redisx.TTLDedup)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	p, err := kafkax.UnwrapPayload[fridge.SaleSettledPayload](env.Payload)
	if err != nil {
		return err
	}
	if err := s.flag(ctx, p, env.CorrelationID); err != nil {
		// release the claim so the redelivery is processed
		_ = s.Redis.Del(ctx, dkey).Err()
		return err
	}
	return nil
}

// flag records every low line before publishing any of them, so a failed
// lookup leaves nothing half announced for the redelivery to repeat.
func (s *Service) flag(ctx context.Context, p fridge.SaleSettledPayload, correlation string) error {
	var low []fridge.InventoryItem
	for _, ln := range p.Lines {
		if ln.StockAfter > fridge.LowStockThreshold {
			continue
		}
		item, err := s.Items.GetInventoryItem(ctx, ln.InventoryID)
		if errors.Is(err, fridge.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		low = append(low, item)
	}
	if len(low) == 0 {
		return nil
	}

	key := fmt.Sprintf(redisx.KeyRestock, p.MachineID)
	pipe := s.Redis.TxPipeline()
	for _, item := range low {
		pipe.SAdd(ctx, key, item.ID)
	}
	pipe.Expire(ctx, key, redisx.TTLRestock)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	for _, item := range low {
		s.Log.Info("restock needed",
			zap.String("machine_id", p.MachineID),
			zap.String("item", item.Name),
			zap.Int("stock", item.StockCount))
		s.publish(fridge.RestockNeededPayload{
			MachineID:   p.MachineID,
			InventoryID: item.ID,
			ItemName:    item.Name,
			StockCount:  item.StockCount,
			SoldOut:     item.SoldOut(),
			ReorderURL:  item.ReorderURL,
		}, correlation)
	}
	return nil
}

func (s *Service) publish(p fridge.RestockNeededPayload, correlation string) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	ev := fridge.Envelope{
		EventID:       uuid.NewString(),
		EventType:     fridge.EventRestockNeeded,
		EventVersion:  1,
		OccurredAt:    now().UTC(),
		Producer:      s.ServiceName,
		CorrelationID: correlation,
		Payload:       kafkax.MustMarshal(p),
	}
	s.Producer.Publish(fridge.PartitionKey(p.MachineID), kafkax.MustMarshal(ev), kafkax.EventHeaders(fridge.EventRestockNeeded)...)
}

// Pending lists inventory ids flagged for the machine.
func Pending(ctx context.Context, rdb *redis.Client, machineID string) ([]string, error) {
	ids, err := rdb.SMembers(ctx, fmt.Sprintf(redisx.KeyRestock, machineID)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && ids == nil) {
		return []string{}, nil
	}
	return ids, err
}

// Clear drops an item once it has been restocked.
func Clear(ctx context.Context, rdb *redis.Client, machineID, inventoryID string) error {
	return rdb.SRem(ctx, fmt.Sprintf(redisx.KeyRestock, machineID), inventoryID).Err()
}
