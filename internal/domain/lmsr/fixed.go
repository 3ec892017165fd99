package lmsr

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits every engine result is rounded to.
// It is far finer than any collateral scale, so converting a result to base units
// only rounds once, at the boundary.
const Precision int32 = 36

// guardDigits are carried through intermediate steps and dropped at the end.
const guardDigits int32 = 10

var (
	one  = decimal.NewFromInt(1)
	half = decimal.New(5, -1)

	// Ulp is the smallest positive engine value, 10^-Precision.
	Ulp = decimal.New(1, -Precision)

	// exp(x) for x below the cutoff is smaller than 10^-Precision and rounds to zero.
	expCutoff = decimal.NewFromInt(-90)
)

// ExpTaylor caches factorials in a package-level slice it appends to. Filling it
// for the largest series we run keeps every later call read-only.
func init() {
	if _, err := half.Neg().ExpTaylor(Precision + guardDigits); err != nil {
		panic(fmt.Sprintf("lmsr: warm exp: %v", err))
	}
}

// expNonPositive evaluates e^x for x <= 0. x is halved until |x| <= 1/2 so the
// Taylor series stays short, then the result is squared back up.
func expNonPositive(x decimal.Decimal) decimal.Decimal {
	if x.IsZero() {
		return one
	}
	if x.LessThan(expCutoff) {
		return decimal.Zero
	}

	work := Precision + guardDigits
	halvings := 0
	for x.Abs().GreaterThan(half) {
		x = x.Mul(half)
		halvings++
	}

	sum, err := x.ExpTaylor(work)
	if err != nil {
		// ExpTaylor only fails for non-finite input, which a decimal cannot hold.
		panic(fmt.Sprintf("lmsr: exp(%s): %v", x, err))
	}
	for ; halvings > 0; halvings-- {
		sum = sum.Mul(sum).Round(work)
	}
	return sum.Round(Precision)
}

// ln is the natural logarithm of a positive value at engine precision.
func ln(v decimal.Decimal) decimal.Decimal {
	r, err := v.Ln(Precision + guardDigits)
	if err != nil {
		// callers only pass sums that include exp(0) = 1
		panic(fmt.Sprintf("lmsr: ln(%s): %v", v, err))
	}
	return r.Round(Precision)
}
