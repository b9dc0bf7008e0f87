// Package adapter defines the ports a share ledger talks to. The ledger never
// reaches a lending venue, an insurance instrument or an AMM directly, only
// these interfaces, so each share class can be wired to different venues.
package adapter

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrUnavailable is returned by adapters that are temporarily unable to act
var ErrUnavailable = errors.New("adapter unavailable")

// Token is a fungible token the ledger can pull from and pay out in
type Token interface {
	Address() common.Address
	Symbol() string
	Decimals() uint8
	BalanceOf(owner common.Address) *uint256.Int
	Allowance(owner, spender common.Address) *uint256.Int
	Approve(owner, spender common.Address, amount *uint256.Int) error
	Transfer(from, to common.Address, amount *uint256.Int) error
	TransferFrom(spender, from, to common.Address, amount *uint256.Int) error
}

// AssetAdapter routes the asset leg into a yield-bearing lending venue.
//
// Positions are held per sub-account: every holder's share of the venue
// position, and the rewards it accrues, live at that holder's sub-account
// address. Amounts are in venue position units.
type AssetAdapter interface {
	// Name identifies the venue for logs and metadata
	Name() string

	// QuoteDeposit returns the underlying needed to open amount position units
	QuoteDeposit(ctx context.Context, amount *uint256.Int) (*uint256.Int, error)

	// Deposit takes the quoted underlying from payer and opens amount
	// position units at sub. Returns the units actually received.
	Deposit(ctx context.Context, payer, sub common.Address, amount *uint256.Int) (*uint256.Int, error)

	// RevertDeposit undoes a Deposit made earlier in the same operation:
	// it closes amount units at sub and returns exactly cost, the underlying
	// the deposit took, to recipient. Unlike Withdraw it does not price the
	// units at the current rate.
	RevertDeposit(ctx context.Context, sub common.Address, amount, cost *uint256.Int, recipient common.Address) error

	// Withdraw closes amount position units at sub and pays the underlying
	// to recipient. Returns the underlying paid.
	Withdraw(ctx context.Context, sub common.Address, amount *uint256.Int, recipient common.Address) (*uint256.Int, error)

	// RevertWithdraw undoes a Withdraw made earlier in the same operation:
	// it takes back exactly paid, the underlying the withdrawal paid out,
	// from payer and reopens amount units at sub.
	RevertWithdraw(ctx context.Context, payer, sub common.Address, amount, paid *uint256.Int) error

	// Move transfers position units between two sub-accounts
	Move(ctx context.Context, from, to common.Address, amount *uint256.Int) error

	// PositionOf returns the position units held at sub
	PositionOf(ctx context.Context, sub common.Address) (*uint256.Int, error)

	// RewardBalance returns the venue rewards accrued to sub so far
	RewardBalance(ctx context.Context, sub common.Address) (*uint256.Int, error)

	// ClaimReward pays every reward accrued to sub out to recipient
	ClaimReward(ctx context.Context, sub, recipient common.Address) (*uint256.Int, error)
}

// InsuranceAdapter acquires and disposes of the insurance instrument. Units
// are pooled at a single owner, the ledger, rather than per holder.
type InsuranceAdapter interface {
	Name() string

	// Instrument is the token address of the insurance instrument
	Instrument() common.Address

	// Acquire buys amount units with payer's underlying. The units are
	// delivered to payer.
	Acquire(ctx context.Context, payer common.Address, amount *uint256.Int) (*uint256.Int, error)

	// Dispose sells amount units held by owner and pays the underlying to
	// recipient.
	Dispose(ctx context.Context, owner common.Address, amount *uint256.Int, recipient common.Address) (*uint256.Int, error)

	// HasExpired reports whether the instrument is past expiry, after which
	// it can no longer be sold through the gateway.
	HasExpired(ctx context.Context) (bool, error)

	// Holdings returns the instrument units held by owner
	Holdings(ctx context.Context, owner common.Address) (*uint256.Int, error)
}

// PricingGateway prices and executes swaps between the underlying and an
// instrument.
type PricingGateway interface {
	// QuoteCostOf returns the underlying needed to buy exactly amount instrument units
	QuoteCostOf(ctx context.Context, instrument common.Address, amount *uint256.Int) (*uint256.Int, error)

	// QuoteProceedsOf returns the underlying received for selling amount instrument units
	QuoteProceedsOf(ctx context.Context, instrument common.Address, amount *uint256.Int) (*uint256.Int, error)

	// BuyExact buys exactly amount instrument units with payer's underlying
	// and delivers them to recipient. Returns the underlying spent.
	BuyExact(ctx context.Context, instrument common.Address, amount *uint256.Int, payer, recipient common.Address) (*uint256.Int, error)

	// SellExact sells exactly amount of seller's instrument units and pays
	// the underlying to recipient. Returns the underlying paid.
	SellExact(ctx context.Context, instrument common.Address, amount *uint256.Int, seller, recipient common.Address) (*uint256.Int, error)
}
