package core_test

import (
	"errors"
	"testing"

	"SaveLedger/internal/core"

	"github.com/stretchr/testify/assert"
)

type fakeDedupStore struct {
	seen map[string]bool
	err  error
}

func (f *fakeDedupStore) IsDuplicate(classSymbol, commandID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.seen[core.DedupKey(classSymbol, commandID)], nil
}

func TestIdempotency_BeginReservesUntilFinish(t *testing.T) {
	ic := core.NewIdempotencyChecker(10, nil, nil)

	assert.True(t, ic.Begin("saveDAI", "cmd-1"))
	assert.False(t, ic.Begin("saveDAI", "cmd-1"), "in flight")
	assert.True(t, ic.Begin("saveADAI", "cmd-1"), "keys are per class")

	ic.Finish("saveDAI", "cmd-1", true)
	assert.False(t, ic.Begin("saveDAI", "cmd-1"), "processed")
	assert.True(t, ic.IsDuplicate("saveDAI", "cmd-1"))
}

func TestIdempotency_RefusedCommandIsReleased(t *testing.T) {
	ic := core.NewIdempotencyChecker(10, nil, nil)

	assert.True(t, ic.Begin("saveDAI", "cmd-1"))
	ic.Finish("saveDAI", "cmd-1", false)

	assert.False(t, ic.IsDuplicate("saveDAI", "cmd-1"))
	assert.True(t, ic.Begin("saveDAI", "cmd-1"))
}

func TestIdempotency_DatabaseTier(t *testing.T) {
	store := &fakeDedupStore{seen: map[string]bool{core.DedupKey("saveDAI", "old"): true}}
	ic := core.NewIdempotencyChecker(10, store, nil)

	assert.False(t, ic.Begin("saveDAI", "old"))
	assert.True(t, ic.Begin("saveDAI", "new"))

	// Database errors fail open
	store.err = errors.New("connection reset")
	assert.True(t, ic.Begin("saveDAI", "other"))
}

func TestIdempotencyLRU_EvictsOldest(t *testing.T) {
	lru := core.NewIdempotencyLRU(2)
	assert.False(t, lru.Add("a"))
	assert.False(t, lru.Add("b"))
	assert.True(t, lru.Contains("a"))
	assert.True(t, lru.Add("c"))

	assert.False(t, lru.Contains("b"), "least recently used goes first")
	assert.True(t, lru.Contains("a"))
	assert.Equal(t, 2, lru.Size())
	assert.Equal(t, int64(1), lru.Evictions())
}
