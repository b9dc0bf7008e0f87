// Package devnet assembles a complete in-process venue set: a DAI-like
// underlying, a cToken-style and an aToken-style lending venue, an expiring
// oToken-style insurance instrument and a two-hop AMM that prices it. The
// service runs on it when no chain is attached, and tests build on it.
package devnet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SaveLedger/internal/adapter/aave"
	"SaveLedger/internal/adapter/compound"
	"SaveLedger/internal/adapter/opyn"
	"SaveLedger/internal/adapter/uniswap"
	"SaveLedger/internal/core"
	fpmath "SaveLedger/internal/math"
	"SaveLedger/internal/registry"
	"SaveLedger/internal/token"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Clock is a manually advanced time source shared by every venue
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Config tunes the network. Zero values take the defaults below.
type Config struct {
	Start time.Time
	// Time from Start until the insurance instrument expires
	InsuranceTerm time.Duration

	// 1e18 scaled, per second
	CompoundSupplyRate *uint256.Int
	CompoundRewardRate *uint256.Int
	AaveLiquidityRate  *uint256.Int

	// Uniswap exchange reserves
	DAIPoolETH   *uint256.Int
	DAIPoolDAI   *uint256.Int
	OCDAIPoolETH *uint256.Int
	OCDAIPool    *uint256.Int
}

var (
	// 0.02 DAI per cDAI, with 18 and 8 decimals
	CompoundInitialExchangeRate = mustDec("200000000000000000000000000")
	// Roughly 5% a year
	DefaultSupplyRate = uint256.NewInt(1_585_489_599)
	DefaultRewardRate = uint256.NewInt(1_000_000_000_000)
)

func (c *Config) applyDefaults() {
	if c.Start.IsZero() {
		c.Start = time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	}
	if c.InsuranceTerm == 0 {
		c.InsuranceTerm = 90 * 24 * time.Hour
	}
	if c.CompoundSupplyRate == nil {
		c.CompoundSupplyRate = DefaultSupplyRate
	}
	if c.CompoundRewardRate == nil {
		c.CompoundRewardRate = DefaultRewardRate
	}
	if c.AaveLiquidityRate == nil {
		c.AaveLiquidityRate = DefaultSupplyRate
	}
	if c.DAIPoolETH == nil {
		c.DAIPoolETH = mustDec("1000000000000000000000") // 1000 ETH
	}
	if c.DAIPoolDAI == nil {
		c.DAIPoolDAI = mustDec("200000000000000000000000") // 200k DAI
	}
	if c.OCDAIPoolETH == nil {
		c.OCDAIPoolETH = mustDec("10000000000000000000") // 10 ETH
	}
	if c.OCDAIPool == nil {
		c.OCDAIPool = mustDec("100000000000000") // 10M ocDAI, 7 decimals
	}
}

// Network is the assembled venue set
type Network struct {
	Clock *Clock

	DAI   *token.Token
	ETH   *token.Token
	COMP  *token.Token
	CDAI  *token.Token
	OCDAI *token.Token

	Compound *compound.Venue
	Aave     *aave.Reserve
	Gateway  *uniswap.Gateway
	Opyn     *opyn.Adapter

	Registry *registry.Registry
}

// AddressOf derives a stable devnet address for a named component
func AddressOf(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("devnet:" + name))[12:])
}

func New(cfg Config, opts ...registry.Option) (*Network, error) {
	cfg.applyDefaults()
	clock := NewClock(cfg.Start)

	n := &Network{
		Clock: clock,
		DAI:   token.New(AddressOf("DAI"), "DAI", 18),
		ETH:   token.New(AddressOf("WETH"), "WETH", 18),
		COMP:  token.New(AddressOf("COMP"), "COMP", 18),
		CDAI:  token.New(AddressOf("cDAI"), "cDAI", 8),
		OCDAI: token.New(AddressOf("ocDAI"), "ocDAI", 7),
	}

	var err error
	n.Compound, err = compound.New(compound.Config{
		Address:             AddressOf("compound:cDAI"),
		Underlying:          n.DAI,
		Receipt:             n.CDAI,
		Reward:              n.COMP,
		InitialExchangeRate: CompoundInitialExchangeRate,
		SupplyRatePerSecond: cfg.CompoundSupplyRate,
		RewardRatePerSecond: cfg.CompoundRewardRate,
		Clock:               clock.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("devnet: %w", err)
	}

	n.Aave, err = aave.New(aave.Config{
		Address:                AddressOf("aave:aDAI"),
		Underlying:             n.DAI,
		Symbol:                 "aDAI",
		LiquidityRatePerSecond: cfg.AaveLiquidityRate,
		Clock:                  clock.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("devnet: %w", err)
	}

	n.Gateway = uniswap.New(n.ETH, n.DAI, fpmath.DefaultFeeBps)
	n.Gateway.AddExchange(n.DAI, AddressOf("uniswap:DAI"))
	n.Gateway.AddExchange(n.OCDAI, AddressOf("uniswap:ocDAI"))
	if err := n.Gateway.AddLiquidity(n.DAI.Address(), cfg.DAIPoolETH, cfg.DAIPoolDAI); err != nil {
		return nil, fmt.Errorf("devnet: seed DAI exchange: %w", err)
	}
	if err := n.Gateway.AddLiquidity(n.OCDAI.Address(), cfg.OCDAIPoolETH, cfg.OCDAIPool); err != nil {
		return nil, fmt.Errorf("devnet: seed ocDAI exchange: %w", err)
	}

	n.Opyn, err = opyn.New(opyn.Config{
		Instrument: n.OCDAI,
		Gateway:    n.Gateway,
		Expiry:     cfg.Start.Add(cfg.InsuranceTerm),
		Clock:      clock.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("devnet: %w", err)
	}

	opts = append([]registry.Option{registry.WithClock(clock.Now)}, opts...)
	n.Registry = registry.New(AddressOf("registry"), opts...)
	return n, nil
}

// CompoundParams wires a class to the cToken-style venue
func (n *Network) CompoundParams(admin common.Address) registry.Params {
	return registry.Params{
		Name:       "SaveDAI",
		Symbol:     "saveDAI",
		Decimals:   n.CDAI.Decimals(),
		Admin:      admin,
		Underlying: n.DAI,
		Asset:      n.Compound,
		Insurance:  n.Opyn,
		Gateway:    n.Gateway,
	}
}

// AaveParams wires a class to the aToken-style venue
func (n *Network) AaveParams(admin common.Address) registry.Params {
	return registry.Params{
		Name:       "SaveDAI Aave",
		Symbol:     "saveADAI",
		Decimals:   n.DAI.Decimals(),
		Admin:      admin,
		Underlying: n.DAI,
		Asset:      n.Aave,
		Insurance:  n.Opyn,
		Gateway:    n.Gateway,
	}
}

// CreateDefaultClasses registers the Compound class then the Aave class
func (n *Network) CreateDefaultClasses(ctx context.Context, admin common.Address) ([]*core.ShareLedger, error) {
	var out []*core.ShareLedger
	for _, params := range []registry.Params{n.CompoundParams(admin), n.AaveParams(admin)} {
		l, err := n.Registry.CreateShareClass(ctx, params)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// Fund mints underlying to holder and lets l pull it without limit
func (n *Network) Fund(holder common.Address, amount *uint256.Int, l *core.ShareLedger) error {
	if err := n.DAI.Mint(holder, amount); err != nil {
		return err
	}
	if l == nil {
		return nil
	}
	return n.DAI.Approve(holder, l.Class().Address, token.MaxAllowance)
}

func mustDec(s string) *uint256.Int {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		panic(err)
	}
	return v
}
