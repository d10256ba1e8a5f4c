package ingestion

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"AuctionLedger/internal/observability"
)

// IdempotencyChecker implements two-tier command deduplication: a hot
// in-memory LRU in front of a Postgres lookup over the event log.
type IdempotencyChecker struct {
	lru       *idempotencyLRU
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
}

// DBIdempotencyChecker is the interface for the Postgres dedup tier.
type DBIdempotencyChecker interface {
	IsDuplicate(commandType, idempotencyKey string) (bool, error)
	MarkProcessed(commandType, idempotencyKey string) error
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       newIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
	}
}

// IsDuplicate checks whether the command was already processed.
func (ic *IdempotencyChecker) IsDuplicate(commandType, idempotencyKey string) bool {
	compositeKey := fmt.Sprintf("%s:%s", commandType, idempotencyKey)

	// Tier 1: LRU check (hot path)
	if ic.lru.contains(compositeKey) {
		if ic.metrics != nil {
			ic.metrics.IdempotencyDuplicates.WithLabelValues("lru").Inc()
		}
		return true
	}

	// Tier 2: Postgres check (cold path)
	if ic.dbChecker != nil {
		start := time.Now()
		isDup, err := ic.dbChecker.IsDuplicate(commandType, idempotencyKey)
		if ic.metrics != nil {
			ic.metrics.DedupTier2Duration.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			// Conservative: a DB issue must not block command processing,
			// so an error reads as not-duplicate.
			return false
		}
		if isDup {
			if ic.metrics != nil {
				ic.metrics.IdempotencyDuplicates.WithLabelValues("postgres").Inc()
			}
			ic.lru.add(compositeKey)
			return true
		}
	}

	return false
}

// MarkProcessed records the key in both tiers after successful
// processing. A DB write failure leaves the LRU entry in place; the
// command would only replay after both an eviction and a restart.
func (ic *IdempotencyChecker) MarkProcessed(commandType, idempotencyKey string) {
	ic.lru.add(fmt.Sprintf("%s:%s", commandType, idempotencyKey))
	if ic.dbChecker != nil {
		if err := ic.dbChecker.MarkProcessed(commandType, idempotencyKey); err != nil && ic.metrics != nil {
			ic.metrics.PersistErrors.WithLabelValues("mark_processed").Inc()
		}
	}
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.len()))
	}
}

// --- LRU ---

// idempotencyLRU is a mutex-guarded LRU of composite dedup keys.
type idempotencyLRU struct {
	mu       sync.Mutex
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

type lruEntry struct {
	key string
}

func newIdempotencyLRU(capacity int) *idempotencyLRU {
	return &idempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// contains checks if key exists and promotes it to the front.
func (lru *idempotencyLRU) contains(key string) bool {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	elem, ok := lru.cache[key]
	if ok {
		lru.lruList.MoveToFront(elem)
	}
	return ok
}

// add inserts the key, evicting the oldest entry when over capacity.
func (lru *idempotencyLRU) add(key string) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if elem, ok := lru.cache[key]; ok {
		lru.lruList.MoveToFront(elem)
		return
	}

	elem := lru.lruList.PushFront(&lruEntry{key: key})
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		oldest := lru.lruList.Back()
		if oldest != nil {
			lru.lruList.Remove(oldest)
			delete(lru.cache, oldest.Value.(*lruEntry).key)
			lru.evictions++
		}
	}
}

func (lru *idempotencyLRU) len() int {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return lru.lruList.Len()
}
