// Package lmsr implements the Logarithmic Market Scoring Rule (LMSR) market maker
// over an arbitrary number of mutually exclusive outcomes.
//
// Properties the market relies on:
//   - Bounded loss for the market maker: b * ln(n) for n outcomes.
//   - Always available liquidity at a price in (0, 1).
//   - Prices sum to one and read as probabilities.
//
// Quantities are whole shares; every result is a fixed-point decimal expressed in
// collateral tokens (one winning share pays one token), rounded to Precision digits.
// No float64 is involved, so results are bit-identical across machines.
//
// Reference: "Logarithmic Market Scoring Rules for Modular Combinatorial Information
// Aggregation", Robin Hanson, 2003.
package lmsr

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidLiquidity = errors.New("liquidity must be positive")
	ErrInvalidQuantity  = errors.New("invalid amount")
	ErrOutcomeRange     = errors.New("outcome out of range")
	ErrOverflow         = errors.New("arithmetic overflow")
)

// Engine prices trades for a fixed liquidity parameter b.
// Higher b = more stable prices and less slippage, but a larger worst-case subsidy.
type Engine struct {
	b decimal.Decimal
}

// New returns an Engine for liquidity b. b must be strictly positive.
func New(liquidity decimal.Decimal) (Engine, error) {
	if !liquidity.IsPositive() {
		return Engine{}, fmt.Errorf("lmsr.New: b=%s: %w", liquidity, ErrInvalidLiquidity)
	}
	return Engine{b: liquidity}, nil
}

// Liquidity returns b.
func (e Engine) Liquidity() decimal.Decimal {
	return e.b
}

// Cost calculates C(q) = b * ln(Σ exp(q_i / b)).
// Uses the log-sum-exp form C(q) = max(q) + b * ln(Σ exp((q_i - max(q)) / b)),
// so no exponent is ever positive.
func (e Engine) Cost(q []int64) decimal.Decimal {
	if len(q) == 0 {
		return decimal.Zero
	}
	maxQ, terms := e.expTerms(q)
	sum := decimal.Sum(terms[0], terms[1:]...)
	return decimal.NewFromInt(maxQ).Add(e.b.Mul(ln(sum))).Round(Precision)
}

// Price returns the instantaneous price of outcome i:
// exp(q_i / b) / Σ exp(q_j / b).
func (e Engine) Price(q []int64, i int) (decimal.Decimal, error) {
	if i < 0 || i >= len(q) {
		return decimal.Zero, fmt.Errorf("lmsr.Price: outcome %d of %d: %w", i, len(q), ErrOutcomeRange)
	}
	_, terms := e.expTerms(q)
	sum := decimal.Sum(terms[0], terms[1:]...)
	return clampPrice(terms[i].DivRound(sum, Precision)), nil
}

// Prices returns the price of every outcome, in outcome order.
func (e Engine) Prices(q []int64) []decimal.Decimal {
	if len(q) == 0 {
		return nil
	}
	_, terms := e.expTerms(q)
	sum := decimal.Sum(terms[0], terms[1:]...)
	prices := make([]decimal.Decimal, len(terms))
	for i, t := range terms {
		prices[i] = clampPrice(t.DivRound(sum, Precision))
	}
	return prices
}

// BuyCost calculates the cost to buy k shares of outcome i: C(q + k·e_i) - C(q).
func (e Engine) BuyCost(q []int64, i int, k int64) (decimal.Decimal, error) {
	if k <= 0 {
		return decimal.Zero, fmt.Errorf("lmsr.BuyCost: shares=%d: %w", k, ErrInvalidQuantity)
	}
	after, err := Shift(q, i, k)
	if err != nil {
		return decimal.Zero, fmt.Errorf("lmsr.BuyCost: %w", err)
	}
	// Far behind the leader every exp term underflows and the difference is zero.
	// k·Ulp keeps the cost positive and strictly increasing in k.
	return decimal.Max(e.Cost(after).Sub(e.Cost(q)), Ulp.Mul(decimal.NewFromInt(k))), nil
}

// SellProceeds calculates what the market pays back for k shares of outcome i:
// C(q) - C(q - k·e_i). Quantities may go negative; how many shares a seller owns is
// the ledger's concern.
func (e Engine) SellProceeds(q []int64, i int, k int64) (decimal.Decimal, error) {
	if k <= 0 {
		return decimal.Zero, fmt.Errorf("lmsr.SellProceeds: shares=%d: %w", k, ErrInvalidQuantity)
	}
	after, err := Shift(q, i, -k)
	if err != nil {
		return decimal.Zero, fmt.Errorf("lmsr.SellProceeds: %w", err)
	}
	return e.Cost(q).Sub(e.Cost(after)), nil
}

// MaxLoss returns the market maker's worst-case loss for n outcomes: b * ln(n).
// It equals C(0), the collateral a fresh market needs before it can trade.
func (e Engine) MaxLoss(n int) decimal.Decimal {
	if n <= 1 {
		return decimal.Zero
	}
	return e.b.Mul(ln(decimal.NewFromInt(int64(n)))).Round(Precision)
}

// Shift returns a copy of q with delta added to q[i].
func Shift(q []int64, i int, delta int64) ([]int64, error) {
	if i < 0 || i >= len(q) {
		return nil, fmt.Errorf("outcome %d of %d: %w", i, len(q), ErrOutcomeRange)
	}
	v := q[i]
	if (delta > 0 && v > math.MaxInt64-delta) || (delta < 0 && v < math.MinInt64-delta) {
		return nil, fmt.Errorf("q[%d]=%d%+d: %w", i, v, delta, ErrOverflow)
	}
	out := make([]int64, len(q))
	copy(out, q)
	out[i] = v + delta
	return out, nil
}

// clampPrice keeps a price inside (0, 1) once a term has underflowed.
// The sum of prices then stays within n·Ulp of one.
func clampPrice(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(Ulp) {
		return Ulp
	}
	if top := one.Sub(Ulp); p.GreaterThan(top) {
		return top
	}
	return p
}

// expTerms returns max(q) and exp((q_i - max(q)) / b) for every i.
func (e Engine) expTerms(q []int64) (int64, []decimal.Decimal) {
	maxQ := q[0]
	for _, v := range q[1:] {
		if v > maxQ {
			maxQ = v
		}
	}
	top := decimal.NewFromInt(maxQ)
	terms := make([]decimal.Decimal, len(q))
	for i, v := range q {
		x := decimal.NewFromInt(v).Sub(top).DivRound(e.b, Precision+guardDigits)
		terms[i] = expNonPositive(x)
	}
	return maxQ, terms
}
