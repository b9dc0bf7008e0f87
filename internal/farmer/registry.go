// Package farmer keeps the per-holder sub-accounts a share ledger deposits
// through. Each holder gets one sub-account per ledger, at an address derived
// deterministically from the ledger and holder addresses, so venue positions
// and venue rewards stay isolated per holder.
package farmer

import (
	"bytes"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

var proxyInitCodeHash = crypto.Keccak256([]byte("SaveLedger:farmer-proxy:v1"))

// SubAccount is a holder's venue-facing account
type SubAccount struct {
	ID        uuid.UUID      `json:"id"`
	Address   common.Address `json:"address"`
	Holder    common.Address `json:"holder"`
	CreatedAt time.Time      `json:"created_at"`
}

// DeriveAddress returns the CREATE2 address of holder's sub-account under ledger
func DeriveAddress(ledger, holder common.Address) common.Address {
	salt := crypto.Keccak256Hash(holder.Bytes())
	return crypto.CreateAddress2(ledger, salt, proxyInitCodeHash)
}

// Registry maps holders to sub-accounts. Sub-accounts are never destroyed.
// Not thread-safe; owned by a single ledger which serializes access.
type Registry struct {
	ledger   common.Address
	accounts map[common.Address]*SubAccount
}

func NewRegistry(ledger common.Address) *Registry {
	return &Registry{
		ledger:   ledger,
		accounts: make(map[common.Address]*SubAccount),
	}
}

// Get returns holder's sub-account if one exists
func (r *Registry) Get(holder common.Address) (*SubAccount, bool) {
	sa, ok := r.accounts[holder]
	return sa, ok
}

// Ensure returns holder's sub-account, creating it on first use. The bool
// reports whether it was created by this call.
func (r *Registry) Ensure(holder common.Address, now time.Time) (*SubAccount, bool) {
	if sa, ok := r.accounts[holder]; ok {
		return sa, false
	}
	sa := &SubAccount{
		ID:        uuid.New(),
		Address:   DeriveAddress(r.ledger, holder),
		Holder:    holder,
		CreatedAt: now,
	}
	r.accounts[holder] = sa
	return sa, true
}

// Forget undoes an Ensure made earlier in the same failed operation
func (r *Registry) Forget(holder common.Address) {
	delete(r.accounts, holder)
}

// All returns every sub-account ordered by holder address
func (r *Registry) All() []SubAccount {
	out := make([]SubAccount, 0, len(r.accounts))
	for _, sa := range r.accounts {
		out = append(out, *sa)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Holder[:], out[j].Holder[:]) < 0
	})
	return out
}

// Restore loads sub-accounts from a snapshot
func (r *Registry) Restore(accounts []SubAccount) {
	for i := range accounts {
		sa := accounts[i]
		r.accounts[sa.Holder] = &sa
	}
}

func (r *Registry) Len() int {
	return len(r.accounts)
}
