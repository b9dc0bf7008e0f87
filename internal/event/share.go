package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Mint records shares issued to a depositor, together with what the deposit
// cost in underlying.
type Mint struct {
	Holder        common.Address `json:"holder"`
	Amount        *uint256.Int   `json:"amount"`
	AssetCost     *uint256.Int   `json:"asset_cost"`
	InsuranceCost *uint256.Int   `json:"insurance_cost"`
}

func (m *Mint) EventType() EventType { return EventTypeMint }

// Transfer records a share move, with the leg claims that went along
type Transfer struct {
	From              common.Address `json:"from"`
	To                common.Address `json:"to"`
	Amount            *uint256.Int   `json:"amount"`
	AssetLegMoved     *uint256.Int   `json:"asset_leg_moved"`
	InsuranceLegMoved *uint256.Int   `json:"insurance_leg_moved"`
}

func (t *Transfer) EventType() EventType { return EventTypeTransfer }

type Approval struct {
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Amount  *uint256.Int   `json:"amount"`
}

func (a *Approval) EventType() EventType { return EventTypeApproval }
