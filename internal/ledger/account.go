package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeHolder AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Holder sub-types
	SubTypeShares AccountSubType = iota
	SubTypeAssetLeg
	SubTypeInsuranceLeg

	// External sub-types. Their balances go negative by the amount outstanding.
	SubTypeExternalIssuance
	SubTypeExternalVenue
	SubTypeExternalInstrument
)

// HolderSubTypes lists the sub-types every holder carries.
var HolderSubTypes = [...]AccountSubType{SubTypeShares, SubTypeAssetLeg, SubTypeInsuranceLeg}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID common.Address // holder address, zero for external accounts
	SubType  AccountSubType
}

// NewHolderAccountKey creates a key for holder accounts
func NewHolderAccountKey(holder common.Address, subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:    AccountScopeHolder,
		EntityID: holder,
		SubType:  subType,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
	}
}

// ExternalCounterpart maps a holder sub-type to the boundary account units
// are issued from and burned into.
func ExternalCounterpart(subType AccountSubType) AccountKey {
	switch subType {
	case SubTypeShares:
		return NewExternalAccountKey(SubTypeExternalIssuance)
	case SubTypeAssetLeg:
		return NewExternalAccountKey(SubTypeExternalVenue)
	case SubTypeInsuranceLeg:
		return NewExternalAccountKey(SubTypeExternalInstrument)
	}
	panic(fmt.Sprintf("no external counterpart for sub-type %d", subType))
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeHolder:
		return fmt.Sprintf("holder:%s:%s", k.EntityID.Hex(), k.SubTypeName())
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.EntityID.Hex(), k.SubTypeName())
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s", k.SubTypeName())
	}
	return "unknown"
}

func (k AccountKey) SubTypeName() string {
	switch k.SubType {
	case SubTypeShares:
		return "shares"
	case SubTypeAssetLeg:
		return "asset_leg"
	case SubTypeInsuranceLeg:
		return "insurance_leg"
	case SubTypeExternalIssuance:
		return "issuance"
	case SubTypeExternalVenue:
		return "venue"
	case SubTypeExternalInstrument:
		return "instrument"
	default:
		return "unknown"
	}
}
