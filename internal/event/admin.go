package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type Paused struct {
	Account common.Address `json:"account"`
}

func (p *Paused) EventType() EventType { return EventTypePaused }

type Unpaused struct {
	Account common.Address `json:"account"`
}

func (u *Unpaused) EventType() EventType { return EventTypeUnpaused }

// SubAccountCreated records the lazy creation of a holder's venue sub-account
type SubAccountCreated struct {
	Holder     common.Address `json:"holder"`
	SubAccount common.Address `json:"sub_account"`
}

func (s *SubAccountCreated) EventType() EventType { return EventTypeSubAccountCreated }

// ShareClassCreated is emitted by the registry
type ShareClassCreated struct {
	ClassID          uuid.UUID      `json:"class_id"`
	Ledger           common.Address `json:"ledger"`
	Underlying       common.Address `json:"underlying"`
	AssetAdapter     string         `json:"asset_adapter"`
	InsuranceAdapter string         `json:"insurance_adapter"`
	Instrument       common.Address `json:"instrument"`
	Name             string         `json:"name"`
	Symbol           string         `json:"symbol"`
	Decimals         uint8          `json:"decimals"`
}

func (s *ShareClassCreated) EventType() EventType { return EventTypeShareClassCreated }
