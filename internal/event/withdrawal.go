package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Redemption is the common body of both withdrawal events
type Redemption struct {
	Holder             common.Address `json:"holder"`
	Amount             *uint256.Int   `json:"amount"` // shares burned
	AssetLegReleased   *uint256.Int   `json:"asset_leg_released"`
	InsuranceReleased  *uint256.Int   `json:"insurance_leg_released"`
	UnderlyingReturned *uint256.Int   `json:"underlying_returned"`
	RewardsSwept       *uint256.Int   `json:"rewards_swept"`
	InsuranceExpired   bool           `json:"insurance_expired"`
}

type WithdrawForUnderlyingAsset struct {
	Redemption
}

func (w *WithdrawForUnderlyingAsset) EventType() EventType {
	return EventTypeWithdrawForUnderlyingAsset
}

type WithdrawAll struct {
	Redemption
}

func (w *WithdrawAll) EventType() EventType { return EventTypeWithdrawAll }

// WithdrawReward records reward tokens claimed from a holder's sub-account
type WithdrawReward struct {
	Holder common.Address `json:"holder"`
	Amount *uint256.Int   `json:"amount"`
}

func (w *WithdrawReward) EventType() EventType { return EventTypeWithdrawReward }

// RewardsBalance records a reward balance read
type RewardsBalance struct {
	Holder common.Address `json:"holder"`
	Amount *uint256.Int   `json:"amount"`
}

func (r *RewardsBalance) EventType() EventType { return EventTypeRewardsBalance }
