package ledger

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BalanceTracker maintains in-memory account balances.
//
// Balances are 256-bit two's complement: external boundary accounts go
// negative by the amount they have issued, holder accounts never do.
type BalanceTracker struct {
	balances map[AccountKey]*uint256.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*uint256.Int),
	}
}

// ApplyJournal applies a single journal entry to balances without checks
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.add(j.DebitAccount, j.Amount)
	bt.sub(j.CreditAccount, j.Amount)
}

// ApplyBatch applies all journals in a batch. Either every journal lands or
// none does: the batch is rejected if it would leave any holder or system
// account negative.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	pending := make(map[AccountKey]*uint256.Int)
	load := func(key AccountKey) *uint256.Int {
		if v, ok := pending[key]; ok {
			return v
		}
		v := bt.GetBalance(key)
		pending[key] = v
		return v
	}

	for _, j := range batch.Journals {
		debit := load(j.DebitAccount)
		debit.Add(debit, j.Amount)
		credit := load(j.CreditAccount)
		credit.Sub(credit, j.Amount)
	}

	for key, v := range pending {
		if key.Scope != AccountScopeExternal && v.Sign() < 0 {
			return fmt.Errorf("batch %s leaves account %s negative", batch.BatchID, key.AccountPath())
		}
	}

	for key, v := range pending {
		bt.SetBalance(key, v)
	}
	return nil
}

// GetBalance returns a copy of the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *uint256.Int {
	if v, ok := bt.balances[key]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// SetBalance overwrites a balance (snapshot restore)
func (bt *BalanceTracker) SetBalance(key AccountKey, v *uint256.Int) {
	if v.IsZero() {
		delete(bt.balances, key)
		return
	}
	bt.balances[key] = v.Clone()
}

func (bt *BalanceTracker) add(key AccountKey, amount *uint256.Int) {
	v := bt.GetBalance(key)
	bt.SetBalance(key, v.Add(v, amount))
}

func (bt *BalanceTracker) sub(key AccountKey, amount *uint256.Int) {
	v := bt.GetBalance(key)
	bt.SetBalance(key, v.Sub(v, amount))
}

// === Holder Balance Queries ===

func (bt *BalanceTracker) HolderShares(holder common.Address) *uint256.Int {
	return bt.GetBalance(NewHolderAccountKey(holder, SubTypeShares))
}

func (bt *BalanceTracker) HolderAssetLeg(holder common.Address) *uint256.Int {
	return bt.GetBalance(NewHolderAccountKey(holder, SubTypeAssetLeg))
}

func (bt *BalanceTracker) HolderInsuranceLeg(holder common.Address) *uint256.Int {
	return bt.GetBalance(NewHolderAccountKey(holder, SubTypeInsuranceLeg))
}

// Outstanding returns the amount issued out of the external counterpart of a
// holder sub-type, i.e. the total held across all holders.
func (bt *BalanceTracker) Outstanding(holderSubType AccountSubType) *uint256.Int {
	v := bt.GetBalance(ExternalCounterpart(holderSubType))
	return v.Neg(v)
}

// Holders returns every holder with a non-zero account, sorted by address
func (bt *BalanceTracker) Holders() []common.Address {
	seen := make(map[common.Address]struct{})
	for key := range bt.balances {
		if key.Scope == AccountScopeHolder {
			seen[key.EntityID] = struct{}{}
		}
	}
	holders := make([]common.Address, 0, len(seen))
	for h := range seen {
		holders = append(holders, h)
	}
	sort.Slice(holders, func(i, j int) bool {
		return bytes.Compare(holders[i][:], holders[j][:]) < 0
	})
	return holders
}

// === Invariant Checks ===

// ValidateSufficient checks an account holds at least required
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, required *uint256.Int) error {
	have := bt.GetBalance(key)
	if have.Lt(required) {
		return fmt.Errorf("insufficient %s balance: have=%s, need=%s",
			key.SubTypeName(), have.Dec(), required.Dec())
	}
	return nil
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance.Sign() < 0 {
		return fmt.Errorf("account %s has negative balance", key.AccountPath())
	}
	return nil
}

// ComputeGlobalBalance sums every account per unit, keyed by the holder
// sub-type. Each total must be zero.
func (bt *BalanceTracker) ComputeGlobalBalance() map[AccountSubType]*uint256.Int {
	totals := make(map[AccountSubType]*uint256.Int, len(HolderSubTypes))
	for _, st := range HolderSubTypes {
		totals[st] = new(uint256.Int)
	}

	for key, balance := range bt.balances {
		unit := unitOf(key.SubType)
		totals[unit].Add(totals[unit], balance)
	}

	return totals
}

func unitOf(subType AccountSubType) AccountSubType {
	switch subType {
	case SubTypeExternalIssuance:
		return SubTypeShares
	case SubTypeExternalVenue:
		return SubTypeAssetLeg
	case SubTypeExternalInstrument:
		return SubTypeInsuranceLeg
	}
	return subType
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]*uint256.Int {
	snapshot := make(map[AccountKey]*uint256.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v.Clone()
	}
	return snapshot
}
