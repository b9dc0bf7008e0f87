// Package uniswap is an in-process pricing gateway built from constant-product
// exchanges that each pair one token with a common intermediary asset (ETH).
// Swaps between two tokens route through two exchanges.
package uniswap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"SaveLedger/internal/adapter"
	fpmath "SaveLedger/internal/math"
	"SaveLedger/internal/token"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var ErrNoExchange = errors.New("no exchange for token")

type exchange struct {
	address common.Address
	token   *token.Token
}

// Gateway prices and executes swaps between the underlying and any listed
// instrument
type Gateway struct {
	mu         sync.Mutex
	eth        *token.Token
	underlying *token.Token
	feeBps     uint64
	exchanges  map[common.Address]*exchange
}

var _ adapter.PricingGateway = (*Gateway)(nil)

func New(eth, underlying *token.Token, feeBps uint64) *Gateway {
	return &Gateway{
		eth:        eth,
		underlying: underlying,
		feeBps:     feeBps,
		exchanges:  make(map[common.Address]*exchange),
	}
}

// AddExchange lists tok on an exchange at address
func (g *Gateway) AddExchange(tok *token.Token, address common.Address) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.exchanges[tok.Address()] = &exchange{address: address, token: tok}
}

// AddLiquidity seeds an exchange's reserves
func (g *Gateway) AddLiquidity(tokenAddr common.Address, ethAmount, tokenAmount *uint256.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ex, ok := g.exchanges[tokenAddr]
	if !ok {
		return fmt.Errorf("%w %s", ErrNoExchange, tokenAddr.Hex())
	}
	if err := g.eth.Mint(ex.address, ethAmount); err != nil {
		return err
	}
	return ex.token.Mint(ex.address, tokenAmount)
}

// Reserves returns an exchange's (eth, token) reserves
func (g *Gateway) Reserves(tokenAddr common.Address) (*uint256.Int, *uint256.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ex, err := g.exchangeFor(tokenAddr)
	if err != nil {
		return nil, nil, err
	}
	return g.eth.BalanceOf(ex.address), ex.token.BalanceOf(ex.address), nil
}

func (g *Gateway) exchangeFor(tokenAddr common.Address) (*exchange, error) {
	ex, ok := g.exchanges[tokenAddr]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrNoExchange, tokenAddr.Hex())
	}
	return ex, nil
}

// buyRoute prices buying amount instrument units: ETH needed on the
// instrument exchange, then underlying needed to raise that ETH.
func (g *Gateway) buyRoute(instrument common.Address, amount *uint256.Int) (ethNeeded, cost *uint256.Int, in, und *exchange, err error) {
	if in, err = g.exchangeFor(instrument); err != nil {
		return
	}
	if und, err = g.exchangeFor(g.underlying.Address()); err != nil {
		return
	}

	ethNeeded, err = fpmath.GetOutputPrice(amount, g.eth.BalanceOf(in.address), in.token.BalanceOf(in.address), g.feeBps)
	if err != nil {
		err = fmt.Errorf("price %s for ETH: %w", in.token.Symbol(), err)
		return
	}
	cost, err = fpmath.GetOutputPrice(ethNeeded, und.token.BalanceOf(und.address), g.eth.BalanceOf(und.address), g.feeBps)
	if err != nil {
		err = fmt.Errorf("price ETH for %s: %w", und.token.Symbol(), err)
	}
	return
}

// sellRoute prices selling amount instrument units: ETH received on the
// instrument exchange, then underlying received for that ETH.
func (g *Gateway) sellRoute(instrument common.Address, amount *uint256.Int) (ethOut, proceeds *uint256.Int, in, und *exchange, err error) {
	if in, err = g.exchangeFor(instrument); err != nil {
		return
	}
	if und, err = g.exchangeFor(g.underlying.Address()); err != nil {
		return
	}

	ethOut, err = fpmath.GetInputPrice(amount, in.token.BalanceOf(in.address), g.eth.BalanceOf(in.address), g.feeBps)
	if err != nil {
		err = fmt.Errorf("sell %s for ETH: %w", in.token.Symbol(), err)
		return
	}
	proceeds, err = fpmath.GetInputPrice(ethOut, g.eth.BalanceOf(und.address), und.token.BalanceOf(und.address), g.feeBps)
	if err != nil {
		err = fmt.Errorf("sell ETH for %s: %w", und.token.Symbol(), err)
	}
	return
}

func (g *Gateway) QuoteCostOf(ctx context.Context, instrument common.Address, amount *uint256.Int) (*uint256.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, cost, _, _, err := g.buyRoute(instrument, amount)
	return cost, err
}

func (g *Gateway) QuoteProceedsOf(ctx context.Context, instrument common.Address, amount *uint256.Int) (*uint256.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, proceeds, _, _, err := g.sellRoute(instrument, amount)
	return proceeds, err
}

func (g *Gateway) BuyExact(ctx context.Context, instrument common.Address, amount *uint256.Int, payer, recipient common.Address) (*uint256.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ethNeeded, cost, in, und, err := g.buyRoute(instrument, amount)
	if err != nil {
		return nil, err
	}
	// The first leg is the only one that can fail; the pricing guarantees
	// the reserves for the other two.
	if err := und.token.Transfer(payer, und.address, cost); err != nil {
		return nil, fmt.Errorf("buy %s: %w", in.token.Symbol(), err)
	}
	if err := g.eth.Transfer(und.address, in.address, ethNeeded); err != nil {
		return nil, fmt.Errorf("buy %s: %w", in.token.Symbol(), err)
	}
	if err := in.token.Transfer(in.address, recipient, amount); err != nil {
		return nil, fmt.Errorf("buy %s: %w", in.token.Symbol(), err)
	}
	return cost, nil
}

func (g *Gateway) SellExact(ctx context.Context, instrument common.Address, amount *uint256.Int, seller, recipient common.Address) (*uint256.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ethOut, proceeds, in, und, err := g.sellRoute(instrument, amount)
	if err != nil {
		return nil, err
	}
	if err := in.token.Transfer(seller, in.address, amount); err != nil {
		return nil, fmt.Errorf("sell %s: %w", in.token.Symbol(), err)
	}
	if err := g.eth.Transfer(in.address, und.address, ethOut); err != nil {
		return nil, fmt.Errorf("sell %s: %w", in.token.Symbol(), err)
	}
	if err := und.token.Transfer(und.address, recipient, proceeds); err != nil {
		return nil, fmt.Errorf("sell %s: %w", in.token.Symbol(), err)
	}
	return proceeds, nil
}
