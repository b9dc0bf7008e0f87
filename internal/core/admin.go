package core

import (
	"context"
	"fmt"

	"SaveLedger/internal/event"

	"github.com/ethereum/go-ethereum/common"
)

// Pause blocks minting. Transfers and withdrawals stay open so holders can
// always exit.
func (l *ShareLedger) Pause(ctx context.Context, caller common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.class.Admin {
		return l.reject(OpPause, unauthorized(OpPause, ErrNotAdmin))
	}
	if l.paused {
		return l.reject(OpPause, precondition(OpPause, ErrPaused))
	}

	l.paused = true
	l.commit(ctx, &pending{op: OpPause, events: []event.Event{&event.Paused{Account: caller}}})
	l.logger.Info().Str("admin", caller.Hex()).Msg("share class paused")
	return nil
}

// AnnounceCreation opens the class's event chain with ShareClassCreated.
// Only valid before any other event.
func (l *ShareLedger) AnnounceCreation(ctx context.Context) (*event.ShareClassCreated, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sequence != 0 {
		return nil, fmt.Errorf("share class %s already has %d events", l.class.Symbol, l.sequence)
	}

	created := &event.ShareClassCreated{
		ClassID:          l.class.ID,
		Ledger:           l.class.Address,
		Underlying:       l.class.Underlying.Address(),
		AssetAdapter:     l.class.Asset.Name(),
		InsuranceAdapter: l.class.Insurance.Name(),
		Instrument:       l.class.Insurance.Instrument(),
		Name:             l.class.Name,
		Symbol:           l.class.Symbol,
		Decimals:         l.class.Decimals,
	}
	l.commit(ctx, &pending{op: OpCreate, events: []event.Event{created}})
	return created, nil
}

func (l *ShareLedger) Unpause(ctx context.Context, caller common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.class.Admin {
		return l.reject(OpUnpause, unauthorized(OpUnpause, ErrNotAdmin))
	}
	if !l.paused {
		return l.reject(OpUnpause, precondition(OpUnpause, ErrNotPaused))
	}

	l.paused = false
	l.commit(ctx, &pending{op: OpUnpause, events: []event.Event{&event.Unpaused{Account: caller}}})
	l.logger.Info().Str("admin", caller.Hex()).Msg("share class unpaused")
	return nil
}
