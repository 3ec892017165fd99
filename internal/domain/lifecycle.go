package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Open enables trading. Allowed from Proposed or Paused, for the operator only, and
// only once the collateral covers the market maker's liability.
func (m *Market) Open(caller AccountID) error {
	if caller != m.Operator {
		return fmt.Errorf("market.Open: %q is not the operator: %w", caller, ErrUnauthorized)
	}
	if !m.Stage.Is(StageProposed, StagePaused) {
		return fmt.Errorf("market.Open: from %s: %w", m.Stage, ErrInvalidStageTransition)
	}
	if !m.Solvent() {
		return fmt.Errorf("market.Open: collateral %s < liability %s: %w",
			m.CollateralBalance, m.Liability(), ErrUndercollateralized)
	}
	m.Stage = Open()
	return nil
}

// Pause disables trading until the operator opens the market again.
func (m *Market) Pause(caller AccountID) error {
	if caller != m.Operator {
		return fmt.Errorf("market.Pause: %q is not the operator: %w", caller, ErrUnauthorized)
	}
	if !m.Stage.Is(StageOpen) {
		return fmt.Errorf("market.Pause: from %s: %w", m.Stage, ErrInvalidStageTransition)
	}
	m.Stage = Paused()
	return nil
}

// Resolve finalizes the market from a payout vector with one entry per outcome.
// A vector summing to FullScale resolves to the largest entry (lowest index on ties)
// and is kept for redemption. An all-zero vector marks the market invalid. Any other
// sum is rejected and the market is left as it was.
func (m *Market) Resolve(caller AccountID, payouts []decimal.Decimal) error {
	if caller != m.Resolver() {
		return fmt.Errorf("market.Resolve: %q is not the resolver: %w", caller, ErrUnauthorized)
	}
	if !m.Stage.Is(StageOpen, StagePaused) {
		return fmt.Errorf("market.Resolve: from %s: %w", m.Stage, ErrInvalidStageTransition)
	}
	if len(payouts) != len(m.Outcomes) {
		return fmt.Errorf("market.Resolve: %d payouts for %d outcomes: %w",
			len(payouts), len(m.Outcomes), ErrInvalidPayoutVector)
	}

	sum := decimal.Zero
	winner := 0
	for i, p := range payouts {
		if err := checkAmount(p); err != nil {
			return fmt.Errorf("market.Resolve: payout %d: %w: %w", i, ErrInvalidPayoutVector, err)
		}
		sum = sum.Add(p)
		if p.GreaterThan(payouts[winner]) {
			winner = i
		}
	}

	switch {
	case sum.Equal(FullScale(m.CollateralDecimals)):
		m.Payouts = append([]decimal.Decimal(nil), payouts...)
		m.Stage = Resolved(uint32(winner))
	case sum.IsZero():
		m.Payouts = nil
		m.Stage = Invalid()
	default:
		return fmt.Errorf("market.Resolve: payouts sum to %s, want %s or 0: %w",
			sum, FullScale(m.CollateralDecimals), ErrInvalidPayoutVector)
	}
	return nil
}
