// Package token is an in-process fungible token ledger with ERC-20 style
// balances and allowances. It stands in for the underlying asset, venue
// receipt tokens, insurance instruments and reward tokens.
package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("transfer amount exceeds allowance")
	ErrZeroAddress           = errors.New("zero address")
)

// MaxAllowance is treated as unlimited and never decremented
var MaxAllowance = new(uint256.Int).SetAllOne()

// Token is a single fungible asset
type Token struct {
	mu       sync.Mutex
	address  common.Address
	symbol   string
	decimals uint8

	totalSupply *uint256.Int
	balances    map[common.Address]*uint256.Int
	allowances  map[common.Address]map[common.Address]*uint256.Int
}

func New(address common.Address, symbol string, decimals uint8) *Token {
	return &Token{
		address:     address,
		symbol:      symbol,
		decimals:    decimals,
		totalSupply: new(uint256.Int),
		balances:    make(map[common.Address]*uint256.Int),
		allowances:  make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

func (t *Token) Address() common.Address { return t.address }
func (t *Token) Symbol() string           { return t.symbol }
func (t *Token) Decimals() uint8          { return t.decimals }

func (t *Token) TotalSupply() *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalSupply.Clone()
}

func (t *Token) BalanceOf(owner common.Address) *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balanceOf(owner).Clone()
}

func (t *Token) balanceOf(owner common.Address) *uint256.Int {
	if b, ok := t.balances[owner]; ok {
		return b
	}
	return new(uint256.Int)
}

func (t *Token) Allowance(owner, spender common.Address) *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.allowances[owner][spender]; ok {
		return a.Clone()
	}
	return new(uint256.Int)
}

// Approve sets spender's allowance over owner's balance
func (t *Token) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return fmt.Errorf("%s approve: %w", t.symbol, ErrZeroAddress)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*uint256.Int)
	}
	t.allowances[owner][spender] = amount.Clone()
	return nil
}

// Transfer moves amount from one holder to another
func (t *Token) Transfer(from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transfer(from, to, amount)
}

// TransferFrom is a pull transfer: spender moves amount out of from's balance
// within the allowance from granted it.
func (t *Token) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowance := new(uint256.Int)
	if a, ok := t.allowances[from][spender]; ok {
		allowance = a
	}
	if allowance.Lt(amount) {
		return fmt.Errorf("%s transferFrom %s: %w", t.symbol, from.Hex(), ErrInsufficientAllowance)
	}
	if err := t.transfer(from, to, amount); err != nil {
		return err
	}
	if !allowance.Eq(MaxAllowance) {
		t.allowances[from][spender] = new(uint256.Int).Sub(allowance, amount)
	}
	return nil
}

func (t *Token) transfer(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("%s transfer: %w", t.symbol, ErrZeroAddress)
	}
	bal := t.balanceOf(from)
	if bal.Lt(amount) {
		return fmt.Errorf("%s transfer from %s (have %s, need %s): %w",
			t.symbol, from.Hex(), bal.Dec(), amount.Dec(), ErrInsufficientBalance)
	}
	if from == to {
		return nil
	}
	t.balances[from] = new(uint256.Int).Sub(bal, amount)
	t.balances[to] = new(uint256.Int).Add(t.balanceOf(to), amount)
	return nil
}

// Mint creates new units for to
func (t *Token) Mint(to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("%s mint: %w", t.symbol, ErrZeroAddress)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalSupply = new(uint256.Int).Add(t.totalSupply, amount)
	t.balances[to] = new(uint256.Int).Add(t.balanceOf(to), amount)
	return nil
}

// Burn destroys units held by from
func (t *Token) Burn(from common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	bal := t.balanceOf(from)
	if bal.Lt(amount) {
		return fmt.Errorf("%s burn from %s: %w", t.symbol, from.Hex(), ErrInsufficientBalance)
	}
	t.balances[from] = new(uint256.Int).Sub(bal, amount)
	t.totalSupply = new(uint256.Int).Sub(t.totalSupply, amount)
	return nil
}
