package redisx

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestJSONRoundTripAndMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := New(mr.Addr())
	defer rdb.Close()
	ctx := context.Background()

	type hold struct {
		Trigger string `json:"trigger"`
	}
	key := fmt.Sprintf(KeyLockHold, "m1")

	var got hold
	found, err := GetJSON(ctx, rdb, key, &got)
	if err != nil || found {
		t.Fatalf("GetJSON() on empty = %v, %v", found, err)
	}

	if err := SetJSON(ctx, rdb, key, hold{Trigger: "purchase"}, 30*time.Second); err != nil {
		t.Fatalf("SetJSON() error: %v", err)
	}
	found, err = GetJSON(ctx, rdb, key, &got)
	if err != nil || !found || got.Trigger != "purchase" {
		t.Fatalf("GetJSON() = %v, %+v, %v", found, got, err)
	}

	mr.FastForward(31 * time.Second)
	if ok, _ := Exists(ctx, rdb, key); ok {
		t.Error("key should have expired")
	}
}

func TestMarkOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := New(mr.Addr())
	defer rdb.Close()
	ctx := context.Background()

	key := fmt.Sprintf(KeyDedup, "restock", "evt-1")
	first, err := MarkOnce(ctx, rdb, key, TTLDedup)
	if err != nil || !first {
		t.Fatalf("first MarkOnce() = %v, %v", first, err)
	}
	second, err := MarkOnce(ctx, rdb, key, TTLDedup)
	if err != nil || second {
		t.Fatalf("second MarkOnce() = %v, %v", second, err)
	}
}
