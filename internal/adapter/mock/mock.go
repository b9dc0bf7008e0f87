// Package mock wraps real adapters with controllable failures for tests and
// demos.
package mock

import (
	"context"
	"sync"

	"SaveLedger/internal/adapter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// faults records injected failures and call counts by method name
type faults struct {
	mu       sync.Mutex
	failures map[string]error
	calls    map[string]int
}

// FailOn makes every later call to method return err
func (f *faults) FailOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures == nil {
		f.failures = make(map[string]error)
	}
	f.failures[method] = err
}

// Clear removes all injected failures
func (f *faults) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = nil
}

// Calls returns how many times method was invoked, failed calls included
func (f *faults) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *faults) enter(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[method]++
	return f.failures[method]
}

// Asset wraps an AssetAdapter
type Asset struct {
	faults
	inner adapter.AssetAdapter
}

func NewAsset(inner adapter.AssetAdapter) *Asset {
	return &Asset{inner: inner}
}

func (a *Asset) Name() string { return a.inner.Name() }

func (a *Asset) QuoteDeposit(ctx context.Context, amount *uint256.Int) (*uint256.Int, error) {
	if err := a.enter("QuoteDeposit"); err != nil {
		return nil, err
	}
	return a.inner.QuoteDeposit(ctx, amount)
}

func (a *Asset) Deposit(ctx context.Context, payer, sub common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := a.enter("Deposit"); err != nil {
		return nil, err
	}
	return a.inner.Deposit(ctx, payer, sub, amount)
}

func (a *Asset) Withdraw(ctx context.Context, sub common.Address, amount *uint256.Int, recipient common.Address) (*uint256.Int, error) {
	if err := a.enter("Withdraw"); err != nil {
		return nil, err
	}
	return a.inner.Withdraw(ctx, sub, amount, recipient)
}

func (a *Asset) RevertDeposit(ctx context.Context, sub common.Address, amount, cost *uint256.Int, recipient common.Address) error {
	if err := a.enter("RevertDeposit"); err != nil {
		return err
	}
	return a.inner.RevertDeposit(ctx, sub, amount, cost, recipient)
}

func (a *Asset) RevertWithdraw(ctx context.Context, payer, sub common.Address, amount, paid *uint256.Int) error {
	if err := a.enter("RevertWithdraw"); err != nil {
		return err
	}
	return a.inner.RevertWithdraw(ctx, payer, sub, amount, paid)
}

func (a *Asset) Move(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if err := a.enter("Move"); err != nil {
		return err
	}
	return a.inner.Move(ctx, from, to, amount)
}

func (a *Asset) PositionOf(ctx context.Context, sub common.Address) (*uint256.Int, error) {
	if err := a.enter("PositionOf"); err != nil {
		return nil, err
	}
	return a.inner.PositionOf(ctx, sub)
}

func (a *Asset) RewardBalance(ctx context.Context, sub common.Address) (*uint256.Int, error) {
	if err := a.enter("RewardBalance"); err != nil {
		return nil, err
	}
	return a.inner.RewardBalance(ctx, sub)
}

func (a *Asset) ClaimReward(ctx context.Context, sub, recipient common.Address) (*uint256.Int, error) {
	if err := a.enter("ClaimReward"); err != nil {
		return nil, err
	}
	return a.inner.ClaimReward(ctx, sub, recipient)
}

// Insurance wraps an InsuranceAdapter
type Insurance struct {
	faults
	inner adapter.InsuranceAdapter
}

func NewInsurance(inner adapter.InsuranceAdapter) *Insurance {
	return &Insurance{inner: inner}
}

func (i *Insurance) Name() string               { return i.inner.Name() }
func (i *Insurance) Instrument() common.Address { return i.inner.Instrument() }

func (i *Insurance) Acquire(ctx context.Context, payer common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := i.enter("Acquire"); err != nil {
		return nil, err
	}
	return i.inner.Acquire(ctx, payer, amount)
}

func (i *Insurance) Dispose(ctx context.Context, owner common.Address, amount *uint256.Int, recipient common.Address) (*uint256.Int, error) {
	if err := i.enter("Dispose"); err != nil {
		return nil, err
	}
	return i.inner.Dispose(ctx, owner, amount, recipient)
}

func (i *Insurance) HasExpired(ctx context.Context) (bool, error) {
	if err := i.enter("HasExpired"); err != nil {
		return false, err
	}
	return i.inner.HasExpired(ctx)
}

func (i *Insurance) Holdings(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	if err := i.enter("Holdings"); err != nil {
		return nil, err
	}
	return i.inner.Holdings(ctx, owner)
}

// Gateway wraps a PricingGateway
type Gateway struct {
	faults
	inner adapter.PricingGateway
}

func NewGateway(inner adapter.PricingGateway) *Gateway {
	return &Gateway{inner: inner}
}

func (g *Gateway) QuoteCostOf(ctx context.Context, instrument common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := g.enter("QuoteCostOf"); err != nil {
		return nil, err
	}
	return g.inner.QuoteCostOf(ctx, instrument, amount)
}

func (g *Gateway) QuoteProceedsOf(ctx context.Context, instrument common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := g.enter("QuoteProceedsOf"); err != nil {
		return nil, err
	}
	return g.inner.QuoteProceedsOf(ctx, instrument, amount)
}

func (g *Gateway) BuyExact(ctx context.Context, instrument common.Address, amount *uint256.Int, payer, recipient common.Address) (*uint256.Int, error) {
	if err := g.enter("BuyExact"); err != nil {
		return nil, err
	}
	return g.inner.BuyExact(ctx, instrument, amount, payer, recipient)
}

func (g *Gateway) SellExact(ctx context.Context, instrument common.Address, amount *uint256.Int, seller, recipient common.Address) (*uint256.Int, error) {
	if err := g.enter("SellExact"); err != nil {
		return nil, err
	}
	return g.inner.SellExact(ctx, instrument, amount, seller, recipient)
}
