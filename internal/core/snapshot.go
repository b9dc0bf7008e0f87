package core

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"SaveLedger/internal/farmer"
	"SaveLedger/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// SnapshotState is the full in-memory state of a share ledger at a sequence.
// Venue state is not included; venues keep their own books.
type SnapshotState struct {
	ClassID     uuid.UUID           `json:"class_id"`
	Symbol      string              `json:"symbol"`
	Sequence    int64               `json:"sequence"`
	StateHash   common.Hash         `json:"state_hash"`
	Paused      bool                `json:"paused"`
	Balances    []AccountBalance    `json:"balances"`
	Allowances  []AllowanceEntry    `json:"allowances"`
	SubAccounts []farmer.SubAccount `json:"sub_accounts"`
	CreatedAt   time.Time           `json:"created_at"`
}

// AccountBalance is one ledger account. External balances are stored in
// their 256-bit two's complement form.
type AccountBalance struct {
	Scope   ledger.AccountScope   `json:"scope"`
	Entity  common.Address        `json:"entity"`
	SubType ledger.AccountSubType `json:"sub_type"`
	Balance *uint256.Int          `json:"balance"`
}

type AllowanceEntry struct {
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Amount  *uint256.Int   `json:"amount"`
}

// Snapshot captures the ledger state in a deterministic order
func (l *ShareLedger) Snapshot() *SnapshotState {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := &SnapshotState{
		ClassID:     l.class.ID,
		Symbol:      l.class.Symbol,
		Sequence:    l.sequence,
		StateHash:   common.Hash(l.hasher.GetPrevHash()),
		Paused:      l.paused,
		SubAccounts: l.farmers.All(),
		CreatedAt:   l.clock().UTC(),
	}

	for key, bal := range l.tracker.Snapshot() {
		snap.Balances = append(snap.Balances, AccountBalance{
			Scope:   key.Scope,
			Entity:  key.EntityID,
			SubType: key.SubType,
			Balance: bal,
		})
	}
	sort.Slice(snap.Balances, func(i, j int) bool {
		a, b := snap.Balances[i], snap.Balances[j]
		return accountKeyOf(a).AccountPath() < accountKeyOf(b).AccountPath()
	})

	for owner, spenders := range l.allowances {
		for spender, amount := range spenders {
			snap.Allowances = append(snap.Allowances, AllowanceEntry{Owner: owner, Spender: spender, Amount: amount.Clone()})
		}
	}
	sort.Slice(snap.Allowances, func(i, j int) bool {
		a, b := snap.Allowances[i], snap.Allowances[j]
		if c := bytes.Compare(a.Owner[:], b.Owner[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.Spender[:], b.Spender[:]) < 0
	})

	return snap
}

// Restore loads a snapshot into a ledger that has not committed anything yet
func (l *ShareLedger) Restore(snap *SnapshotState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sequence != 0 {
		return fmt.Errorf("restore %s: ledger already at sequence %d", l.class.Symbol, l.sequence)
	}
	if snap.ClassID != l.class.ID {
		return fmt.Errorf("restore %s: snapshot belongs to class %s", l.class.Symbol, snap.ClassID)
	}

	for _, b := range snap.Balances {
		l.tracker.SetBalance(accountKeyOf(b), b.Balance)
	}
	for _, a := range snap.Allowances {
		l.setAllowance(a.Owner, a.Spender, a.Amount)
	}
	l.farmers.Restore(snap.SubAccounts)

	l.sequence = snap.Sequence
	l.paused = snap.Paused
	l.hasher.SetPrevHash(snap.StateHash)
	l.journalGen.SetSequence(snap.Sequence + 1)

	if err := l.postCheckInvariants(l.tracker.Holders()); err != nil {
		return fmt.Errorf("restore %s: %w", l.class.Symbol, err)
	}
	return nil
}

func accountKeyOf(b AccountBalance) ledger.AccountKey {
	return ledger.AccountKey{Scope: b.Scope, EntityID: b.Entity, SubType: b.SubType}
}
