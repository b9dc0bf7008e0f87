package math

import (
	"errors"

	"github.com/holiman/uint256"
)

// BpsScale is the denominator for fees in basis points
const BpsScale = 10_000

// DefaultFeeBps is the 0.3% constant-product pool fee
const DefaultFeeBps = 30

var ErrInsufficientLiquidity = errors.New("insufficient liquidity")

// GetInputPrice returns the output amount received for selling inputAmount
// into a constant-product pool, after the fee:
//
//	out = in*(1-fee)*outReserve / (inReserve + in*(1-fee))
func GetInputPrice(inputAmount, inputReserve, outputReserve *uint256.Int, feeBps uint64) (*uint256.Int, error) {
	if inputReserve.IsZero() || outputReserve.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	if feeBps >= BpsScale {
		return nil, errors.New("fee must be below 100%")
	}

	inWithFee := new(uint256.Int).Mul(inputAmount, uint256.NewInt(BpsScale-feeBps))
	denominator := new(uint256.Int).Mul(inputReserve, uint256.NewInt(BpsScale))
	if _, overflow := denominator.AddOverflow(denominator, inWithFee); overflow {
		return nil, ErrOverflow
	}
	return MulDiv(inWithFee, outputReserve, denominator, RoundDown)
}

// GetOutputPrice returns the input amount required to buy exactly
// outputAmount from a constant-product pool, after the fee. Rounded up by one
// unit so the pool never loses to truncation.
func GetOutputPrice(outputAmount, inputReserve, outputReserve *uint256.Int, feeBps uint64) (*uint256.Int, error) {
	if inputReserve.IsZero() || !outputAmount.Lt(outputReserve) {
		return nil, ErrInsufficientLiquidity
	}
	if feeBps >= BpsScale {
		return nil, errors.New("fee must be below 100%")
	}

	numerator := new(uint256.Int).Mul(inputReserve, uint256.NewInt(BpsScale))
	remaining := new(uint256.Int).Sub(outputReserve, outputAmount)
	denominator := new(uint256.Int).Mul(remaining, uint256.NewInt(BpsScale-feeBps))

	in, err := MulDiv(numerator, outputAmount, denominator, RoundDown)
	if err != nil {
		return nil, err
	}
	return in.AddUint64(in, 1), nil
}
