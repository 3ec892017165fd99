package domain

import (
	"fmt"
	"math"

	"github.com/alejandrodnm/lmsrmarket/internal/domain/lmsr"
	"github.com/shopspring/decimal"
)

// Side is the direction of a trade against the market maker.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Quote prices a trade without executing it. Amounts are base units.
// Value is the LMSR cost (buy, rounded up) or proceeds (sell, rounded down);
// Total is what the trader pays (Value+Fee) or receives (Value-Fee).
type Quote struct {
	Side   Side
	Shares int64
	Value  decimal.Decimal
	Fee    decimal.Decimal
	Total  decimal.Decimal
}

// TradeReceipt describes an executed trade. Payout goes back to the account:
// the unspent payment on a buy, the proceeds net of fee on a sell.
type TradeReceipt struct {
	Account AccountID
	Outcome uint32
	Quote
	Payout decimal.Decimal
}

// RedeemReceipt describes a redemption after finalization.
type RedeemReceipt struct {
	Account AccountID
	Shares  []int64
	Payout  decimal.Decimal
}

// QuoteTrade prices k shares of outcome in the given direction.
func (m *Market) QuoteTrade(outcome uint32, k int64, side Side) (Quote, error) {
	if err := m.checkOutcome(outcome); err != nil {
		return Quote{}, fmt.Errorf("market.QuoteTrade: %w", err)
	}
	q := Quote{Side: side, Shares: k}
	switch side {
	case SideBuy:
		cost, err := m.engine().BuyCost(m.OutcomeShares, int(outcome), k)
		if err != nil {
			return Quote{}, fmt.Errorf("market.QuoteTrade: %w", err)
		}
		// One base unit per share is the minimum tick, so no buy is ever free.
		q.Value = decimal.Max(tokensToBaseCeil(cost, m.CollateralDecimals), decimal.NewFromInt(k))
		q.Fee = Fee(q.Value, m.TradeFeeBps)
		q.Total = q.Value.Add(q.Fee)
	case SideSell:
		proceeds, err := m.engine().SellProceeds(m.OutcomeShares, int(outcome), k)
		if err != nil {
			return Quote{}, fmt.Errorf("market.QuoteTrade: %w", err)
		}
		q.Value = tokensToBaseFloor(proceeds, m.CollateralDecimals)
		q.Fee = Fee(q.Value, m.TradeFeeBps)
		q.Total = q.Value.Sub(q.Fee)
	default:
		return Quote{}, fmt.Errorf("market.QuoteTrade: side %q: %w", side, ErrInvalidAmount)
	}
	for _, v := range []decimal.Decimal{q.Value, q.Total} {
		if v.GreaterThan(MaxAmount) {
			return Quote{}, fmt.Errorf("market.QuoteTrade: %s: %w", v, ErrArithmeticOverflow)
		}
	}
	return q, nil
}

// SharesForBudget returns the largest number of shares of outcome whose buy cost,
// fee included, fits in budget. Zero means not even one share is affordable.
func (m *Market) SharesForBudget(outcome uint32, budget decimal.Decimal) (int64, error) {
	if err := m.checkOutcome(outcome); err != nil {
		return 0, fmt.Errorf("market.SharesForBudget: %w", err)
	}
	if err := checkAmount(budget); err != nil {
		return 0, fmt.Errorf("market.SharesForBudget: %w", err)
	}
	fits := func(k int64) bool {
		q, err := m.QuoteTrade(outcome, k, SideBuy)
		return err == nil && q.Total.LessThanOrEqual(budget)
	}
	if !fits(1) {
		return 0, nil
	}

	// Each share costs less than one token, so grow until the budget is exceeded.
	lo, hi := int64(1), int64(2)
	for fits(hi) {
		lo = hi
		if hi > math.MaxInt64/2 {
			return lo, nil
		}
		hi *= 2
	}
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		if fits(mid) {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// Buy sells k shares of outcome to account for payment. The LMSR cost joins the
// collateral, the fee is accrued, and the rest of the payment is returned as Payout.
func (m *Market) Buy(account AccountID, outcome uint32, k int64, payment decimal.Decimal) (TradeReceipt, error) {
	if !m.Stage.Is(StageOpen) {
		return TradeReceipt{}, fmt.Errorf("market.Buy: in %s: %w", m.Stage, ErrInvalidStageTransition)
	}
	if account == "" {
		return TradeReceipt{}, fmt.Errorf("market.Buy: account required: %w", ErrUnauthorized)
	}
	if err := checkAmount(payment); err != nil {
		return TradeReceipt{}, fmt.Errorf("market.Buy: payment: %w", err)
	}
	quote, err := m.QuoteTrade(outcome, k, SideBuy)
	if err != nil {
		return TradeReceipt{}, fmt.Errorf("market.Buy: %w", err)
	}
	if payment.LessThan(quote.Total) {
		return TradeReceipt{}, fmt.Errorf("market.Buy: paid %s, costs %s: %w", payment, quote.Total, ErrInsufficientPayment)
	}

	shares, err := lmsr.Shift(m.OutcomeShares, int(outcome), k)
	if err != nil {
		return TradeReceipt{}, fmt.Errorf("market.Buy: %w", err)
	}
	collateral, err := addAmount(m.CollateralBalance, quote.Value)
	if err != nil {
		return TradeReceipt{}, fmt.Errorf("market.Buy: collateral: %w", err)
	}
	fees, err := addAmount(m.FeesAccrued, quote.Fee)
	if err != nil {
		return TradeReceipt{}, fmt.Errorf("market.Buy: fees: %w", err)
	}
	if err := m.Ledger.Credit(account, outcome, k); err != nil {
		return TradeReceipt{}, fmt.Errorf("market.Buy: %w", err)
	}

	m.OutcomeShares = shares
	m.CollateralBalance = collateral
	m.FeesAccrued = fees

	return TradeReceipt{
		Account: account,
		Outcome: outcome,
		Quote:   quote,
		Payout:  payment.Sub(quote.Total),
	}, nil
}

// Sell buys k shares of outcome back from account. The proceeds leave the
// collateral, the fee is accrued and the rest is paid out.
func (m *Market) Sell(account AccountID, outcome uint32, k int64) (TradeReceipt, error) {
	if !m.Stage.Is(StageOpen) {
		return TradeReceipt{}, fmt.Errorf("market.Sell: in %s: %w", m.Stage, ErrInvalidStageTransition)
	}
	if err := m.checkOutcome(outcome); err != nil {
		return TradeReceipt{}, fmt.Errorf("market.Sell: %w", err)
	}
	if k <= 0 {
		return TradeReceipt{}, fmt.Errorf("market.Sell: shares=%d: %w", k, ErrInvalidAmount)
	}
	if held, _ := m.Ledger.BalanceOf(account, outcome); held < k {
		return TradeReceipt{}, fmt.Errorf("market.Sell: %s holds %d of outcome %d, sells %d: %w",
			account, held, outcome, k, ErrInsufficientShares)
	}
	quote, err := m.QuoteTrade(outcome, k, SideSell)
	if err != nil {
		return TradeReceipt{}, fmt.Errorf("market.Sell: %w", err)
	}

	shares, err := lmsr.Shift(m.OutcomeShares, int(outcome), -k)
	if err != nil {
		return TradeReceipt{}, fmt.Errorf("market.Sell: %w", err)
	}
	collateral := m.CollateralBalance.Sub(quote.Value)
	if collateral.IsNegative() || !m.solventWith(shares, collateral) {
		return TradeReceipt{}, fmt.Errorf("market.Sell: collateral %s after paying %s: %w",
			m.CollateralBalance, quote.Value, ErrUndercollateralized)
	}
	fees, err := addAmount(m.FeesAccrued, quote.Fee)
	if err != nil {
		return TradeReceipt{}, fmt.Errorf("market.Sell: fees: %w", err)
	}
	if err := m.Ledger.Debit(account, outcome, k); err != nil {
		return TradeReceipt{}, fmt.Errorf("market.Sell: %w", err)
	}

	m.OutcomeShares = shares
	m.CollateralBalance = collateral
	m.FeesAccrued = fees

	return TradeReceipt{
		Account: account,
		Outcome: outcome,
		Quote:   quote,
		Payout:  quote.Total,
	}, nil
}

// DepositCollateral adds backing collateral. Used to seed liquidity before opening.
func (m *Market) DepositCollateral(amount decimal.Decimal) error {
	if m.Stage.IsFinalized() {
		return fmt.Errorf("market.DepositCollateral: in %s: %w", m.Stage, ErrInvalidStageTransition)
	}
	if err := checkPositive(amount); err != nil {
		return fmt.Errorf("market.DepositCollateral: %w", err)
	}
	collateral, err := addAmount(m.CollateralBalance, amount)
	if err != nil {
		return fmt.Errorf("market.DepositCollateral: %w", err)
	}
	m.CollateralBalance = collateral
	return nil
}

// WithdrawFees hands every accrued fee to the fee owner and resets the counter.
func (m *Market) WithdrawFees() decimal.Decimal {
	amount := m.FeesAccrued
	m.FeesAccrued = decimal.Zero
	return amount
}

// Redeem pays a finalized market's position out and zeroes it. A resolved market
// pays each share of outcome i payouts[i] base units (the vector sums to one token).
// An invalid market refunds every share 1/n of a token.
func (m *Market) Redeem(account AccountID) (RedeemReceipt, error) {
	if !m.Stage.IsFinalized() {
		return RedeemReceipt{}, fmt.Errorf("market.Redeem: in %s: %w", m.Stage, ErrInvalidStageTransition)
	}
	row, ok := m.Ledger.Positions(account)
	if !ok {
		return RedeemReceipt{}, fmt.Errorf("market.Redeem: %s has no position: %w", account, ErrInsufficientShares)
	}

	payout := decimal.Zero
	if m.Stage.Resolution.Kind == ResolutionResolved {
		for i, shares := range row {
			payout = payout.Add(decimal.NewFromInt(shares).Mul(m.Payouts[i]))
		}
	} else {
		total := decimal.Zero
		for _, shares := range row {
			total = total.Add(decimal.NewFromInt(shares))
		}
		payout = total.Mul(FullScale(m.CollateralDecimals)).
			Div(decimal.NewFromInt(int64(len(m.Outcomes)))).RoundFloor(0)
	}
	if payout.GreaterThan(m.CollateralBalance) {
		return RedeemReceipt{}, fmt.Errorf("market.Redeem: owes %s, holds %s: %w",
			payout, m.CollateralBalance, ErrUndercollateralized)
	}

	m.Ledger.zero(account)
	m.CollateralBalance = m.CollateralBalance.Sub(payout)
	return RedeemReceipt{Account: account, Shares: row, Payout: payout}, nil
}
