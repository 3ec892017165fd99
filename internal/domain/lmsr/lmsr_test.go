package lmsr

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newEngine(t *testing.T, b int64) Engine {
	t.Helper()
	e, err := New(decimal.NewFromInt(b))
	require.NoError(t, err)
	return e
}

func TestExpNonPositive_MatchesFloat(t *testing.T) {
	for _, x := range []float64{0, -0.001, -0.3, -0.5, -1, -2.75, -10, -30} {
		got := expNonPositive(decimal.NewFromFloat(x)).InexactFloat64()
		assert.InEpsilon(t, math.Exp(x), got, 1e-12, "x=%v", x)
	}
}

func TestExpNonPositive_BelowCutoffIsZero(t *testing.T) {
	assert.True(t, expNonPositive(decimal.NewFromInt(-1000)).IsZero())
}

func TestLn_MatchesFloat(t *testing.T) {
	for _, v := range []float64{0.25, 1, 1.5, 2, 3, 7.389, 1000} {
		got := ln(decimal.NewFromFloat(v)).InexactFloat64()
		assert.InDelta(t, math.Log(v), got, 1e-12, "v=%v", v)
	}
}

func TestLn_KnownDigits(t *testing.T) {
	assert.Equal(t, "0.693147180559945309417232121458176568", ln(decimal.NewFromInt(2)).String())
	assert.True(t, ln(decimal.NewFromInt(1)).IsZero())
}

func TestNew_RejectsNonPositiveLiquidity(t *testing.T) {
	_, err := New(decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidLiquidity)

	_, err = New(decimal.NewFromInt(-5))
	assert.ErrorIs(t, err, ErrInvalidLiquidity)
}

func TestCost_ZeroVectorIsMaxLoss(t *testing.T) {
	e := newEngine(t, 50)
	cost := e.Cost([]int64{0, 0})

	// 50 * ln 2
	assert.InDelta(t, 34.657359027997, cost.InexactFloat64(), 1e-9)
	assert.True(t, cost.Equal(e.MaxLoss(2)))
}

func TestPrices_ParityAndSumToOne(t *testing.T) {
	e := newEngine(t, 50)

	prices := e.Prices([]int64{0, 0})
	require.Len(t, prices, 2)
	assert.Equal(t, "0.5", prices[0].String())
	assert.Equal(t, "0.5", prices[1].String())

	tolerance := decimal.New(1, -(Precision - 2))
	for _, q := range [][]int64{{10, 0}, {-40, 25, 3}, {1_000_000, 0, 0, 5}, {7, 7, 7, 7, 7}} {
		prices := e.Prices(q)
		sum := decimal.Sum(prices[0], prices[1:]...)
		assert.True(t, sum.Sub(decimal.NewFromInt(1)).Abs().LessThanOrEqual(tolerance), "q=%v sum=%s", q, sum)
	}
}

func TestPrice_IncreasesAfterBuy(t *testing.T) {
	e := newEngine(t, 50)
	before, err := e.Price([]int64{0, 0}, 0)
	require.NoError(t, err)
	after, err := e.Price([]int64{10, 0}, 0)
	require.NoError(t, err)

	assert.True(t, after.GreaterThan(before))
	assert.True(t, after.LessThan(decimal.NewFromInt(1)))
}

func TestPrices_StayInsideOpenIntervalFarFromParity(t *testing.T) {
	e := newEngine(t, 50)
	q := []int64{5000, 0}

	for i, p := range e.Prices(q) {
		assert.True(t, p.IsPositive(), "price %d = %s", i, p)
		assert.True(t, p.LessThan(one), "price %d = %s", i, p)
	}
	p, err := e.Price(q, 1)
	require.NoError(t, err)
	assert.True(t, p.Equal(Ulp), "price %s", p)
}

func TestBuyCost_StrictlyIncreasingFarBehindLeader(t *testing.T) {
	e := newEngine(t, 50)
	q := []int64{5000, 0}

	prev := decimal.Zero
	for _, k := range []int64{1, 2, 3, 50, 1000} {
		cost, err := e.BuyCost(q, 1, k)
		require.NoError(t, err)
		assert.True(t, cost.GreaterThan(prev), "k=%d cost %s prev %s", k, cost, prev)
		prev = cost
	}
}

func TestPrice_OutOfRange(t *testing.T) {
	e := newEngine(t, 50)
	_, err := e.Price([]int64{0, 0}, 2)
	assert.ErrorIs(t, err, ErrOutcomeRange)
}

func TestBuyCost_TenSharesAtParity(t *testing.T) {
	e := newEngine(t, 50)
	cost, err := e.BuyCost([]int64{0, 0}, 0, 10)
	require.NoError(t, err)

	// 50 * ln((e^0.2 + 1) / 2)
	assert.InDelta(t, 5.24979187478940, cost.InexactFloat64(), 1e-9)
}

func TestBuyCost_IncreasingAndConvex(t *testing.T) {
	e := newEngine(t, 50)
	q := []int64{12, -3, 0}

	prevTotal := decimal.Zero
	prevAvg := decimal.Zero
	for k := int64(1); k <= 200; k += 13 {
		total, err := e.BuyCost(q, 1, k)
		require.NoError(t, err)
		avg := total.DivRound(decimal.NewFromInt(k), Precision)

		assert.True(t, total.GreaterThan(prevTotal), "k=%d", k)
		assert.True(t, avg.GreaterThanOrEqual(prevAvg), "k=%d", k)
		prevTotal, prevAvg = total, avg
	}
}

func TestSellProceeds_AveragePriceFalls(t *testing.T) {
	e := newEngine(t, 50)
	q := []int64{0, 0}

	avg := func(k int64) decimal.Decimal {
		p, err := e.SellProceeds(q, 1, k)
		require.NoError(t, err)
		return p.DivRound(decimal.NewFromInt(k), Precision)
	}

	assert.True(t, avg(10).GreaterThan(avg(50)))
	assert.True(t, avg(50).GreaterThan(avg(100)))
}

func TestTrade_RejectsNonPositiveShares(t *testing.T) {
	e := newEngine(t, 50)

	_, err := e.BuyCost([]int64{0, 0}, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = e.SellProceeds([]int64{0, 0}, 0, -3)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestShift_Overflow(t *testing.T) {
	_, err := Shift([]int64{math.MaxInt64 - 1, 0}, 0, 2)
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = Shift([]int64{math.MinInt64 + 1, 0}, 0, -2)
	assert.ErrorIs(t, err, ErrOverflow)

	out, err := Shift([]int64{4, 5}, 1, -5)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 0}, out)
}

func TestCost_LargeQuantitiesStayFinite(t *testing.T) {
	e := newEngine(t, 50)
	cost := e.Cost([]int64{1_000_000_000_000, 0})

	// Dominated by max(q); the other outcome contributes nothing at this precision.
	assert.Equal(t, "1000000000000", cost.String())
}

func TestCost_Deterministic(t *testing.T) {
	e := newEngine(t, 37)
	q := []int64{123, -45, 6, 0}
	assert.Equal(t, e.Cost(q).String(), e.Cost(q).String())
}

func TestPrices_SumToOneProperty(t *testing.T) {
	tolerance := decimal.New(1, -(Precision - 2))
	rapid.Check(t, func(t *rapid.T) {
		b := rapid.Int64Range(1, 10_000).Draw(t, "b")
		q := rapid.SliceOfN(rapid.Int64Range(-100_000, 100_000), 2, 6).Draw(t, "q")

		e, err := New(decimal.NewFromInt(b))
		if err != nil {
			t.Fatal(err)
		}
		prices := e.Prices(q)
		sum := decimal.Sum(prices[0], prices[1:]...)
		if sum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(tolerance) {
			t.Fatalf("prices sum to %s for q=%v b=%d", sum, q, b)
		}
	})
}
