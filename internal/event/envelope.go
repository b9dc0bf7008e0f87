package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeMint
	EventTypeTransfer
	EventTypeApproval
	EventTypeWithdrawForUnderlyingAsset
	EventTypeWithdrawAll
	EventTypeWithdrawReward
	EventTypeRewardsBalance
	EventTypePaused
	EventTypeUnpaused
	EventTypeSubAccountCreated
	EventTypeShareClassCreated
)

var eventTypeNames = map[EventType]string{
	EventTypeMint:                       "Mint",
	EventTypeTransfer:                   "Transfer",
	EventTypeApproval:                   "Approval",
	EventTypeWithdrawForUnderlyingAsset: "WithdrawForUnderlyingAsset",
	EventTypeWithdrawAll:                "WithdrawAll",
	EventTypeWithdrawReward:             "WithdrawReward",
	EventTypeRewardsBalance:             "RewardsBalance",
	EventTypePaused:                     "Paused",
	EventTypeUnpaused:                   "Unpaused",
	EventTypeSubAccountCreated:          "SubAccountCreated",
	EventTypeShareClassCreated:          "ShareClassCreated",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType is the inverse of String
func ParseEventType(s string) (EventType, error) {
	for et, name := range eventTypeNames {
		if name == s {
			return et, nil
		}
	}
	return EventTypeUnknown, fmt.Errorf("unknown event type: %s", s)
}

// Event is the interface all event payloads must implement
type Event interface {
	// EventType returns the discriminator
	EventType() EventType
}

// HolderBalance is a holder's post-operation position, carried on the
// envelope for projections.
type HolderBalance struct {
	Holder       common.Address `json:"holder"`
	Shares       *uint256.Int   `json:"shares"`
	AssetLeg     *uint256.Int   `json:"asset_leg"`
	InsuranceLeg *uint256.Int   `json:"insurance_leg"`
}

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	EventID uuid.UUID

	// Per share class monotonic sequence assigned by the ledger
	Sequence int64

	// Caller supplied command id (may be empty for direct library calls)
	CommandID string

	EventType EventType
	ClassID   uuid.UUID
	Symbol    string

	Timestamp time.Time

	Payload Event

	// Post-operation balances of every holder the operation touched
	Balances []HolderBalance

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// EncodePayload returns the JSON form of the payload for storage and publishing
func (e *EventEnvelope) EncodePayload() ([]byte, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.EventType, err)
	}
	return data, nil
}

// DecodePayload parses a stored payload back into its typed event
func DecodePayload(et EventType, data []byte) (Event, error) {
	var evt Event
	switch et {
	case EventTypeMint:
		evt = &Mint{}
	case EventTypeTransfer:
		evt = &Transfer{}
	case EventTypeApproval:
		evt = &Approval{}
	case EventTypeWithdrawForUnderlyingAsset:
		evt = &WithdrawForUnderlyingAsset{}
	case EventTypeWithdrawAll:
		evt = &WithdrawAll{}
	case EventTypeWithdrawReward:
		evt = &WithdrawReward{}
	case EventTypeRewardsBalance:
		evt = &RewardsBalance{}
	case EventTypePaused:
		evt = &Paused{}
	case EventTypeUnpaused:
		evt = &Unpaused{}
	case EventTypeSubAccountCreated:
		evt = &SubAccountCreated{}
	case EventTypeShareClassCreated:
		evt = &ShareClassCreated{}
	default:
		return nil, fmt.Errorf("unknown event type: %d", et)
	}

	if err := json.Unmarshal(data, evt); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", et, err)
	}
	return evt, nil
}
