package domain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Amounts are whole collateral base units carried as decimals; one token is
// 10^collateral_decimals base units and one winning share pays one token.

// MaxAmount is the largest representable amount, 2^128 - 1.
var MaxAmount = decimal.NewFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1)), 0)

const bpsDenominator = 10_000

// checkAmount rejects negative or fractional amounts and amounts past MaxAmount.
func checkAmount(a decimal.Decimal) error {
	if a.IsNegative() || !a.Equal(a.Truncate(0)) {
		return fmt.Errorf("amount %s: %w", a, ErrInvalidAmount)
	}
	if a.GreaterThan(MaxAmount) {
		return fmt.Errorf("amount %s: %w", a, ErrArithmeticOverflow)
	}
	return nil
}

// checkPositive is checkAmount plus a > 0.
func checkPositive(a decimal.Decimal) error {
	if err := checkAmount(a); err != nil {
		return err
	}
	if a.IsZero() {
		return fmt.Errorf("amount must be positive: %w", ErrInvalidAmount)
	}
	return nil
}

// addAmount returns a + b, failing when the sum leaves the amount range.
func addAmount(a, b decimal.Decimal) (decimal.Decimal, error) {
	sum := a.Add(b)
	if sum.GreaterThan(MaxAmount) {
		return decimal.Zero, fmt.Errorf("%s + %s: %w", a, b, ErrArithmeticOverflow)
	}
	return sum, nil
}

// FullScale is the payout-vector total meaning "100%": 10^decimals.
func FullScale(decimals uint8) decimal.Decimal {
	return decimal.New(1, int32(decimals))
}

// Fee is ceil(value * bps / 10000); rounding always goes to the market.
func Fee(value decimal.Decimal, bps uint32) decimal.Decimal {
	return value.Mul(decimal.NewFromInt(int64(bps))).Div(decimal.NewFromInt(bpsDenominator)).RoundCeil(0)
}

// tokensToBaseCeil converts a token-denominated engine result to base units, rounding up.
func tokensToBaseCeil(tokens decimal.Decimal, decimals uint8) decimal.Decimal {
	return tokens.Shift(int32(decimals)).RoundCeil(0)
}

// tokensToBaseFloor converts to base units rounding down.
func tokensToBaseFloor(tokens decimal.Decimal, decimals uint8) decimal.Decimal {
	return tokens.Shift(int32(decimals)).RoundFloor(0)
}
