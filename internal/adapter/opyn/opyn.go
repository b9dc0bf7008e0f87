// Package opyn adapts an expiring put-style insurance token (an oToken) that
// is bought and sold through a pricing gateway.
package opyn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SaveLedger/internal/adapter"
	"SaveLedger/internal/token"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var ErrExpired = errors.New("insurance instrument expired")

type Config struct {
	Instrument *token.Token
	Gateway    adapter.PricingGateway
	Expiry     time.Time
	Clock      func() time.Time
}

type Adapter struct {
	cfg Config
}

var _ adapter.InsuranceAdapter = (*Adapter)(nil)

func New(cfg Config) (*Adapter, error) {
	if cfg.Instrument == nil || cfg.Gateway == nil {
		return nil, errors.New("opyn adapter: instrument and gateway are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Adapter{cfg: cfg}, nil
}

func (a *Adapter) Name() string { return "opyn:" + a.cfg.Instrument.Symbol() }

func (a *Adapter) Instrument() common.Address { return a.cfg.Instrument.Address() }

func (a *Adapter) Expiry() time.Time { return a.cfg.Expiry }

func (a *Adapter) HasExpired(ctx context.Context) (bool, error) {
	return !a.cfg.Clock().Before(a.cfg.Expiry), nil
}

func (a *Adapter) Acquire(ctx context.Context, payer common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if expired, _ := a.HasExpired(ctx); expired {
		return nil, fmt.Errorf("acquire %s: %w", a.cfg.Instrument.Symbol(), ErrExpired)
	}
	before := a.cfg.Instrument.BalanceOf(payer)
	if _, err := a.cfg.Gateway.BuyExact(ctx, a.Instrument(), amount, payer, payer); err != nil {
		return nil, fmt.Errorf("acquire %s: %w", a.cfg.Instrument.Symbol(), err)
	}
	after := a.cfg.Instrument.BalanceOf(payer)
	return after.Sub(after, before), nil
}

func (a *Adapter) Dispose(ctx context.Context, owner common.Address, amount *uint256.Int, recipient common.Address) (*uint256.Int, error) {
	if expired, _ := a.HasExpired(ctx); expired {
		return nil, fmt.Errorf("dispose %s: %w", a.cfg.Instrument.Symbol(), ErrExpired)
	}
	proceeds, err := a.cfg.Gateway.SellExact(ctx, a.Instrument(), amount, owner, recipient)
	if err != nil {
		return nil, fmt.Errorf("dispose %s: %w", a.cfg.Instrument.Symbol(), err)
	}
	return proceeds, nil
}

func (a *Adapter) Holdings(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	return a.cfg.Instrument.BalanceOf(owner), nil
}
