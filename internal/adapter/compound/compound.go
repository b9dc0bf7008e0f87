// Package compound is an in-process lending venue in the style of a
// cToken market: deposits mint receipt tokens at a growing exchange rate,
// and a reward token accrues to each depositor address through a global
// reward index.
package compound

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SaveLedger/internal/adapter"
	fpmath "SaveLedger/internal/math"
	"SaveLedger/internal/token"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Config wires a venue
type Config struct {
	// Venue address; custody of the deposited underlying
	Address common.Address

	Underlying *token.Token
	Receipt    *token.Token // position units, e.g. cDAI
	Reward     *token.Token // e.g. COMP

	// Underlying per receipt unit, 1e18 scaled
	InitialExchangeRate *uint256.Int
	// Exchange rate growth per second, 1e18 scaled
	SupplyRatePerSecond *uint256.Int
	// Reward units per receipt unit per second, 1e18 scaled
	RewardRatePerSecond *uint256.Int

	Clock func() time.Time
}

type Venue struct {
	mu  sync.Mutex
	cfg Config

	exchangeRate *uint256.Int
	rewardIndex  *uint256.Int
	lastAccrual  time.Time

	holderIndex map[common.Address]*uint256.Int
	accrued     map[common.Address]*uint256.Int
}

var _ adapter.AssetAdapter = (*Venue)(nil)

func New(cfg Config) (*Venue, error) {
	if cfg.Underlying == nil || cfg.Receipt == nil || cfg.Reward == nil {
		return nil, fmt.Errorf("compound venue %s: underlying, receipt and reward tokens are required", cfg.Address.Hex())
	}
	if cfg.InitialExchangeRate == nil || cfg.InitialExchangeRate.IsZero() {
		return nil, fmt.Errorf("compound venue %s: exchange rate must be positive", cfg.Address.Hex())
	}
	if cfg.SupplyRatePerSecond == nil {
		cfg.SupplyRatePerSecond = new(uint256.Int)
	}
	if cfg.RewardRatePerSecond == nil {
		cfg.RewardRatePerSecond = new(uint256.Int)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Venue{
		cfg:          cfg,
		exchangeRate: cfg.InitialExchangeRate.Clone(),
		rewardIndex:  new(uint256.Int),
		lastAccrual:  cfg.Clock(),
		holderIndex:  make(map[common.Address]*uint256.Int),
		accrued:      make(map[common.Address]*uint256.Int),
	}, nil
}

func (v *Venue) Name() string { return "compound:" + v.cfg.Receipt.Symbol() }

// ExchangeRate returns the current underlying per receipt unit, 1e18 scaled
func (v *Venue) ExchangeRate() (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.accrue(); err != nil {
		return nil, err
	}
	return v.exchangeRate.Clone(), nil
}

func (v *Venue) QuoteDeposit(ctx context.Context, amount *uint256.Int) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.accrue(); err != nil {
		return nil, err
	}
	return fpmath.WadMul(amount, v.exchangeRate, fpmath.RoundUp)
}

func (v *Venue) Deposit(ctx context.Context, payer, sub common.Address, amount *uint256.Int) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.accrue(); err != nil {
		return nil, err
	}

	cost, err := fpmath.WadMul(amount, v.exchangeRate, fpmath.RoundUp)
	if err != nil {
		return nil, err
	}
	if err := v.cfg.Underlying.Transfer(payer, v.cfg.Address, cost); err != nil {
		return nil, fmt.Errorf("deposit into %s: %w", v.Name(), err)
	}

	if err := v.settle(sub); err != nil {
		return nil, err
	}
	if err := v.cfg.Receipt.Mint(sub, amount); err != nil {
		return nil, err
	}
	return amount.Clone(), nil
}

func (v *Venue) Withdraw(ctx context.Context, sub common.Address, amount *uint256.Int, recipient common.Address) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.accrue(); err != nil {
		return nil, err
	}
	if err := v.settle(sub); err != nil {
		return nil, err
	}

	out, err := fpmath.WadMul(amount, v.exchangeRate, fpmath.RoundDown)
	if err != nil {
		return nil, err
	}
	if err := v.cfg.Receipt.Burn(sub, amount); err != nil {
		return nil, fmt.Errorf("redeem from %s: %w", v.Name(), err)
	}
	if err := v.cfg.Underlying.Transfer(v.cfg.Address, recipient, out); err != nil {
		return nil, fmt.Errorf("redeem from %s: %w", v.Name(), err)
	}
	return out, nil
}

func (v *Venue) RevertDeposit(ctx context.Context, sub common.Address, amount, cost *uint256.Int, recipient common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.accrue(); err != nil {
		return err
	}
	if err := v.settle(sub); err != nil {
		return err
	}
	if err := v.cfg.Receipt.Burn(sub, amount); err != nil {
		return fmt.Errorf("revert deposit into %s: %w", v.Name(), err)
	}
	if err := v.cfg.Underlying.Transfer(v.cfg.Address, recipient, cost); err != nil {
		return fmt.Errorf("revert deposit into %s: %w", v.Name(), err)
	}
	return nil
}

func (v *Venue) RevertWithdraw(ctx context.Context, payer, sub common.Address, amount, paid *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.accrue(); err != nil {
		return err
	}
	if err := v.settle(sub); err != nil {
		return err
	}
	if err := v.cfg.Underlying.Transfer(payer, v.cfg.Address, paid); err != nil {
		return fmt.Errorf("revert redeem from %s: %w", v.Name(), err)
	}
	return v.cfg.Receipt.Mint(sub, amount)
}

func (v *Venue) Move(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.accrue(); err != nil {
		return err
	}
	if err := v.settle(from); err != nil {
		return err
	}
	if err := v.settle(to); err != nil {
		return err
	}
	return v.cfg.Receipt.Transfer(from, to, amount)
}

func (v *Venue) PositionOf(ctx context.Context, sub common.Address) (*uint256.Int, error) {
	return v.cfg.Receipt.BalanceOf(sub), nil
}

func (v *Venue) RewardBalance(ctx context.Context, sub common.Address) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.accrue(); err != nil {
		return nil, err
	}
	if err := v.settle(sub); err != nil {
		return nil, err
	}
	return v.accruedOf(sub).Clone(), nil
}

func (v *Venue) ClaimReward(ctx context.Context, sub, recipient common.Address) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.accrue(); err != nil {
		return nil, err
	}
	if err := v.settle(sub); err != nil {
		return nil, err
	}

	amount := v.accruedOf(sub).Clone()
	if amount.IsZero() {
		return amount, nil
	}
	if err := v.cfg.Reward.Mint(recipient, amount); err != nil {
		return nil, fmt.Errorf("claim %s: %w", v.cfg.Reward.Symbol(), err)
	}
	delete(v.accrued, sub)
	return amount, nil
}

// accrue brings the exchange rate and reward index up to the clock. Interest
// is minted to the venue so redemptions at the higher rate stay funded.
func (v *Venue) accrue() error {
	now := v.cfg.Clock()
	if !now.After(v.lastAccrual) {
		return nil
	}
	elapsed := uint256.NewInt(uint64(now.Sub(v.lastAccrual) / time.Second))
	if elapsed.IsZero() {
		return nil
	}

	growth := new(uint256.Int).Mul(v.cfg.SupplyRatePerSecond, elapsed)
	delta, err := fpmath.WadMul(v.exchangeRate, growth, fpmath.RoundDown)
	if err != nil {
		return err
	}
	if !delta.IsZero() {
		interest, err := fpmath.WadMul(v.cfg.Receipt.TotalSupply(), delta, fpmath.RoundUp)
		if err != nil {
			return err
		}
		if !interest.IsZero() {
			if err := v.cfg.Underlying.Mint(v.cfg.Address, interest); err != nil {
				return err
			}
		}
		v.exchangeRate.Add(v.exchangeRate, delta)
	}

	v.rewardIndex.Add(v.rewardIndex, new(uint256.Int).Mul(v.cfg.RewardRatePerSecond, elapsed))
	v.lastAccrual = v.lastAccrual.Add(time.Duration(elapsed.Uint64()) * time.Second)
	return nil
}

// settle credits sub with rewards earned since its last checkpoint
func (v *Venue) settle(sub common.Address) error {
	last, ok := v.holderIndex[sub]
	if !ok {
		last = new(uint256.Int)
	}
	if last.Eq(v.rewardIndex) {
		return nil
	}

	indexDelta := new(uint256.Int).Sub(v.rewardIndex, last)
	earned, err := fpmath.WadMul(v.cfg.Receipt.BalanceOf(sub), indexDelta, fpmath.RoundDown)
	if err != nil {
		return err
	}
	if !earned.IsZero() {
		v.accrued[sub] = new(uint256.Int).Add(v.accruedOf(sub), earned)
	}
	v.holderIndex[sub] = v.rewardIndex.Clone()
	return nil
}

func (v *Venue) accruedOf(sub common.Address) *uint256.Int {
	if a, ok := v.accrued[sub]; ok {
		return a
	}
	return new(uint256.Int)
}
