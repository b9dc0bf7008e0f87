// Package aave is an in-process lending venue in the style of an aToken
// reserve. Positions are scaled balances against a liquidity index that
// grows with time; the venue pays no reward token.
package aave

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

type Config struct {
	Address    common.Address
	Underlying *token.Token
	Symbol     string // receipt symbol, e.g. aDAI

	// Liquidity index growth per second, 1e18 scaled
	LiquidityRatePerSecond *uint256.Int

	Clock func() time.Time
}

type Reserve struct {
	mu  sync.Mutex
	cfg Config

	index       *uint256.Int
	lastAccrual time.Time
	scaled      map[common.Address]*uint256.Int
	totalScaled *uint256.Int
}

var _ adapter.AssetAdapter = (*Reserve)(nil)

func New(cfg Config) (*Reserve, error) {
	if cfg.Underlying == nil {
		return nil, fmt.Errorf("aave reserve %s: underlying token is required", cfg.Symbol)
	}
	if cfg.LiquidityRatePerSecond == nil {
		cfg.LiquidityRatePerSecond = new(uint256.Int)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Reserve{
		cfg:         cfg,
		index:       fpmath.WadScale.Clone(),
		lastAccrual: cfg.Clock(),
		scaled:      make(map[common.Address]*uint256.Int),
		totalScaled: new(uint256.Int),
	}, nil
}

func (r *Reserve) Name() string { return "aave:" + r.cfg.Symbol }

// LiquidityIndex returns underlying per scaled unit, 1e18 scaled
func (r *Reserve) LiquidityIndex() (*uint256.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.accrue(); err != nil {
		return nil, err
	}
	return r.index.Clone(), nil
}

func (r *Reserve) QuoteDeposit(ctx context.Context, amount *uint256.Int) (*uint256.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.accrue(); err != nil {
		return nil, err
	}
	return fpmath.WadMul(amount, r.index, fpmath.RoundUp)
}

func (r *Reserve) Deposit(ctx context.Context, payer, sub common.Address, amount *uint256.Int) (*uint256.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.accrue(); err != nil {
		return nil, err
	}

	cost, err := fpmath.WadMul(amount, r.index, fpmath.RoundUp)
	if err != nil {
		return nil, err
	}
	if err := r.cfg.Underlying.Transfer(payer, r.cfg.Address, cost); err != nil {
		return nil, fmt.Errorf("deposit into %s: %w", r.Name(), err)
	}
	r.scaled[sub] = new(uint256.Int).Add(r.scaledOf(sub), amount)
	r.totalScaled.Add(r.totalScaled, amount)
	return amount.Clone(), nil
}

func (r *Reserve) Withdraw(ctx context.Context, sub common.Address, amount *uint256.Int, recipient common.Address) (*uint256.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.accrue(); err != nil {
		return nil, err
	}

	bal := r.scaledOf(sub)
	if bal.Lt(amount) {
		return nil, fmt.Errorf("redeem from %s: %w", r.Name(), token.ErrInsufficientBalance)
	}
	out, err := fpmath.WadMul(amount, r.index, fpmath.RoundDown)
	if err != nil {
		return nil, err
	}
	if err := r.cfg.Underlying.Transfer(r.cfg.Address, recipient, out); err != nil {
		return nil, fmt.Errorf("redeem from %s: %w", r.Name(), err)
	}
	r.scaled[sub] = new(uint256.Int).Sub(bal, amount)
	r.totalScaled.Sub(r.totalScaled, amount)
	return out, nil
}

func (r *Reserve) RevertDeposit(ctx context.Context, sub common.Address, amount, cost *uint256.Int, recipient common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.accrue(); err != nil {
		return err
	}

	bal := r.scaledOf(sub)
	if bal.Lt(amount) {
		return fmt.Errorf("revert deposit into %s: %w", r.Name(), token.ErrInsufficientBalance)
	}
	if err := r.cfg.Underlying.Transfer(r.cfg.Address, recipient, cost); err != nil {
		return fmt.Errorf("revert deposit into %s: %w", r.Name(), err)
	}
	r.scaled[sub] = new(uint256.Int).Sub(bal, amount)
	r.totalScaled.Sub(r.totalScaled, amount)
	return nil
}

func (r *Reserve) RevertWithdraw(ctx context.Context, payer, sub common.Address, amount, paid *uint256.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.accrue(); err != nil {
		return err
	}
	if err := r.cfg.Underlying.Transfer(payer, r.cfg.Address, paid); err != nil {
		return fmt.Errorf("revert redeem from %s: %w", r.Name(), err)
	}
	r.scaled[sub] = new(uint256.Int).Add(r.scaledOf(sub), amount)
	r.totalScaled.Add(r.totalScaled, amount)
	return nil
}

func (r *Reserve) Move(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bal := r.scaledOf(from)
	if bal.Lt(amount) {
		return fmt.Errorf("move on %s: %w", r.Name(), token.ErrInsufficientBalance)
	}
	r.scaled[from] = new(uint256.Int).Sub(bal, amount)
	r.scaled[to] = new(uint256.Int).Add(r.scaledOf(to), amount)
	return nil
}

func (r *Reserve) PositionOf(ctx context.Context, sub common.Address) (*uint256.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scaledOf(sub).Clone(), nil
}

func (r *Reserve) RewardBalance(ctx context.Context, sub common.Address) (*uint256.Int, error) {
	return new(uint256.Int), nil
}

func (r *Reserve) ClaimReward(ctx context.Context, sub, recipient common.Address) (*uint256.Int, error) {
	return new(uint256.Int), nil
}

func (r *Reserve) accrue() error {
	now := r.cfg.Clock()
	if !now.After(r.lastAccrual) {
		return nil
	}
	elapsed := uint64(now.Sub(r.lastAccrual) / time.Second)
	if elapsed == 0 {
		return nil
	}

	growth := new(uint256.Int).Mul(r.cfg.LiquidityRatePerSecond, uint256.NewInt(elapsed))
	delta, err := fpmath.WadMul(r.index, growth, fpmath.RoundDown)
	if err != nil {
		return err
	}
	if !delta.IsZero() {
		interest, err := fpmath.WadMul(r.totalScaled, delta, fpmath.RoundUp)
		if err != nil {
			return err
		}
		if !interest.IsZero() {
			if err := r.cfg.Underlying.Mint(r.cfg.Address, interest); err != nil {
				return err
			}
		}
		r.index.Add(r.index, delta)
	}
	r.lastAccrual = r.lastAccrual.Add(time.Duration(elapsed) * time.Second)
	return nil
}

func (r *Reserve) scaledOf(sub common.Address) *uint256.Int {
	if v, ok := r.scaled[sub]; ok {
		return v
	}
	return new(uint256.Int)
}
