package core

import (
	"container/list"
	"fmt"
	"sync"

	"SaveLedger/internal/observability"
)

// IdempotencyChecker implements two-tier command deduplication
type IdempotencyChecker struct {
	mu sync.Mutex

	// Tier 1: In-memory LRU
	lru *IdempotencyLRU

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker

	// Commands reserved by Begin and not yet finished
	inFlight map[string]struct{}

	metrics *observability.Metrics
}

// DBIdempotencyChecker is the interface for the Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(classSymbol string, commandID string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		inFlight:  make(map[string]struct{}),
		metrics:   metrics,
	}
}

// DedupKey is the composite key under which a command id is remembered
func DedupKey(classSymbol, commandID string) string {
	return fmt.Sprintf("%s:%s", classSymbol, commandID)
}

// IsDuplicate checks if a command has been processed (two-tier lookup)
func (ic *IdempotencyChecker) IsDuplicate(classSymbol string, commandID string) bool {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.isDuplicateLocked(classSymbol, commandID)
}

// Begin reserves a command for the caller. It returns false when the command
// was already processed or another caller holds the reservation. Every true
// return must be paired with a Finish.
func (ic *IdempotencyChecker) Begin(classSymbol string, commandID string) bool {
	key := DedupKey(classSymbol, commandID)

	ic.mu.Lock()
	defer ic.mu.Unlock()

	if _, busy := ic.inFlight[key]; busy {
		ic.recordDuplicate("in_flight")
		return false
	}
	if ic.isDuplicateLocked(classSymbol, commandID) {
		return false
	}
	ic.inFlight[key] = struct{}{}
	return true
}

// Finish releases a reservation taken by Begin. A committed command is
// remembered; a refused one may be resubmitted under the same id.
func (ic *IdempotencyChecker) Finish(classSymbol string, commandID string, committed bool) {
	key := DedupKey(classSymbol, commandID)

	ic.mu.Lock()
	defer ic.mu.Unlock()
	delete(ic.inFlight, key)
	if committed {
		ic.markLocked(key)
	}
}

// MarkProcessed adds key to LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(classSymbol string, commandID string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.markLocked(DedupKey(classSymbol, commandID))
}

func (ic *IdempotencyChecker) isDuplicateLocked(classSymbol string, commandID string) bool {
	key := DedupKey(classSymbol, commandID)
	if ic.lru.Contains(key) {
		ic.recordDuplicate("lru")
		return true
	}

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(classSymbol, commandID)
		if err != nil {
			// A DB issue must not block command processing: assume not duplicate
			if ic.metrics != nil {
				ic.metrics.DedupTier2Errors.Inc()
			}
			return false
		}

		if isDup {
			ic.recordDuplicate("postgres")
			ic.lru.Add(key)
			return true
		}
	}

	return false
}

func (ic *IdempotencyChecker) markLocked(key string) {
	evicted := ic.lru.Add(key)
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
		if evicted {
			ic.metrics.DedupLRUEvictions.Inc()
		}
	}
}

// Warm loads recently processed keys, e.g. from Postgres on restart
func (ic *IdempotencyChecker) Warm(keys []string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.lru.WarmFromKeys(keys)
}

func (ic *IdempotencyChecker) recordDuplicate(tier string) {
	if ic.metrics != nil {
		ic.metrics.CommandDuplicates.WithLabelValues(tier).Inc()
	}
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU cache for command keys. Not thread-safe on its own.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

type lruEntry struct {
	key string
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists). Reports whether an older key
// was evicted to make room.
func (lru *IdempotencyLRU) Add(key string) bool {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return false
	}

	elem := lru.lruList.PushFront(&lruEntry{key: key})
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
		return true
	}
	return false
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		entry := elem.Value.(*lruEntry)
		delete(lru.cache, entry.key)
		lru.evictions++
	}
}

// WarmFromKeys loads a batch of composite keys, oldest first
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
