package redisx

import "time"

const (
	// Settlement fast path: idem:settle:{payment_reference} -> settlement result JSON
	KeyIdemSettle = "idem:settle:%s"

	// In-flight settlement claim: settle:inflight:{payment_reference}
	KeySettleInFlight = "settle:inflight:%s"

	// Active door hold: lock:hold:{machine_id} -> {"expires_at": "...", "trigger": "..."}
	KeyLockHold = "lock:hold:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Items waiting for restock per machine: restock:{machine_id} -> set of inventory ids
	KeyRestock = "restock:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLSettleClaim = 30 * time.Second
	TTLDedup       = 48 * time.Hour
	TTLRestock     = 7 * 24 * time.Hour
)
