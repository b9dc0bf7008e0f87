package math

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// FormatUnits renders a raw integer amount with the given display decimals,
// e.g. 48921671711 with 8 decimals is "489.21671711".
func FormatUnits(amount *uint256.Int, decimals uint8) string {
	return decimal.NewFromBigInt(amount.ToBig(), -int32(decimals)).String()
}

// ParseUnits converts a display amount back to raw integer units. Fractions
// finer than decimals are rejected rather than truncated.
func ParseUnits(s string, decimals uint8) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %q is negative", s)
	}

	raw := d.Shift(int32(decimals))
	if !raw.Equal(raw.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimals", s, decimals)
	}

	v, overflow := uint256.FromBig(raw.BigInt())
	if overflow {
		return nil, fmt.Errorf("amount %q: %w", s, ErrOverflow)
	}
	return v, nil
}

// ParseAmount parses a raw integer amount from its decimal string form
func ParseAmount(s string) (*uint256.Int, error) {
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("amount %q is negative", s)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return v, nil
}
