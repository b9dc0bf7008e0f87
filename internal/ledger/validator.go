package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed and balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies every unit is zero-sum: what holders own
// equals what the boundary accounts have issued. For shares this is
// Σ holder shares == total supply.
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for _, st := range HolderSubTypes {
		if !totals[st].IsZero() {
			key := NewHolderAccountKey(common.Address{}, st)
			return fmt.Errorf("global balance for %s is non-zero: %s", key.SubTypeName(), totals[st].Dec())
		}
	}

	return nil
}

// ValidateHolder checks a holder's accounts are non-negative and that no leg
// is left behind once the holder's shares reach zero.
func (v *InvariantValidator) ValidateHolder(holder common.Address) error {
	for _, st := range HolderSubTypes {
		if err := v.tracker.ValidateNonNegative(NewHolderAccountKey(holder, st)); err != nil {
			return err
		}
	}

	if !v.tracker.HolderShares(holder).IsZero() {
		return nil
	}
	if asset := v.tracker.HolderAssetLeg(holder); !asset.IsZero() {
		return fmt.Errorf("holder %s has no shares but asset leg %s", holder.Hex(), asset.Dec())
	}
	if ins := v.tracker.HolderInsuranceLeg(holder); !ins.IsZero() {
		return fmt.Errorf("holder %s has no shares but insurance leg %s", holder.Hex(), ins.Dec())
	}
	return nil
}

// ValidatePooledInsurance checks the instrument units pooled at the ledger
// cover every holder's insurance leg.
func (v *InvariantValidator) ValidatePooledInsurance(pooled *uint256.Int) error {
	claimed := v.tracker.Outstanding(SubTypeInsuranceLeg)
	if pooled.Lt(claimed) {
		return fmt.Errorf("pooled insurance %s below claimed %s", pooled.Dec(), claimed.Dec())
	}
	return nil
}
