package math

import (
	"errors"

	"github.com/holiman/uint256"
)

// WadScale is the 1e18 fixed-point scale used for exchange rates and indices
var WadScale = uint256.NewInt(1_000_000_000_000_000_000)

var (
	ErrDivisionByZero = errors.New("division by zero")
	ErrOverflow       = errors.New("uint256 overflow")
)

type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundUp
)

// MulDiv computes x * y / d with a 512-bit intermediate product
func MulDiv(x, y, d *uint256.Int, mode RoundingMode) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}

	quotient, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}

	if mode == RoundDown {
		return quotient, nil
	}

	// remainder = x*y - quotient*d, recomputed mod 2^256. It is always < d,
	// so the wrapped arithmetic yields the exact value.
	remainder := new(uint256.Int).Mul(x, y)
	remainder.Sub(remainder, new(uint256.Int).Mul(quotient, d))
	if remainder.IsZero() {
		return quotient, nil
	}

	if _, overflow := quotient.AddOverflow(quotient, uint256.NewInt(1)); overflow {
		return nil, ErrOverflow
	}
	return quotient, nil
}

// ProRata returns floor(amount * part / whole). It is the proportional share of
// part that moves with amount out of whole; the remainder stays put.
func ProRata(amount, part, whole *uint256.Int) (*uint256.Int, error) {
	if part.IsZero() || amount.IsZero() {
		return new(uint256.Int), nil
	}
	return MulDiv(amount, part, whole, RoundDown)
}

// WadMul returns x * rate / 1e18
func WadMul(x, rate *uint256.Int, mode RoundingMode) (*uint256.Int, error) {
	return MulDiv(x, rate, WadScale, mode)
}

