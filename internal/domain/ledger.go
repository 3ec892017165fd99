package domain

import (
	"fmt"
	"math"
	"sort"
)

// AccountID identifies a trader, operator, oracle or fee owner.
type AccountID string

// Ledger holds per-account share balances for one market, one row per account with
// one entry per outcome. Rows are materialized on the first credit; an account with
// no row has never held shares here, which is not the same as holding zero.
type Ledger struct {
	Outcomes int                   `json:"outcomes"`
	Rows     map[AccountID][]int64 `json:"rows"`
}

// NewLedger creates an empty ledger for a market with the given outcome count.
func NewLedger(outcomes int) *Ledger {
	return &Ledger{Outcomes: outcomes, Rows: make(map[AccountID][]int64)}
}

// Credit adds k shares of outcome to account, creating a zeroed row if needed.
func (l *Ledger) Credit(account AccountID, outcome uint32, k int64) error {
	if err := l.checkOutcome(outcome); err != nil {
		return fmt.Errorf("ledger.Credit: %w", err)
	}
	if k <= 0 {
		return fmt.Errorf("ledger.Credit: shares=%d: %w", k, ErrInvalidAmount)
	}
	row := l.Rows[account]
	if row != nil && row[outcome] > math.MaxInt64-k {
		return fmt.Errorf("ledger.Credit: %s outcome %d: %w", account, outcome, ErrArithmeticOverflow)
	}
	if row == nil {
		if l.Rows == nil {
			l.Rows = make(map[AccountID][]int64)
		}
		row = make([]int64, l.Outcomes)
		l.Rows[account] = row
	}
	row[outcome] += k
	return nil
}

// Debit removes k shares of outcome from account.
func (l *Ledger) Debit(account AccountID, outcome uint32, k int64) error {
	if err := l.checkOutcome(outcome); err != nil {
		return fmt.Errorf("ledger.Debit: %w", err)
	}
	if k <= 0 {
		return fmt.Errorf("ledger.Debit: shares=%d: %w", k, ErrInvalidAmount)
	}
	row, ok := l.Rows[account]
	if !ok || row[outcome] < k {
		have := int64(0)
		if ok {
			have = row[outcome]
		}
		return fmt.Errorf("ledger.Debit: %s outcome %d has %d, wants %d: %w",
			account, outcome, have, k, ErrInsufficientShares)
	}
	row[outcome] -= k
	return nil
}

// BalanceOf returns the balance and whether the account has a row at all.
func (l *Ledger) BalanceOf(account AccountID, outcome uint32) (int64, bool) {
	row, ok := l.Rows[account]
	if !ok || int(outcome) >= len(row) {
		return 0, false
	}
	return row[outcome], true
}

// Positions returns a copy of the account's row.
func (l *Ledger) Positions(account AccountID) ([]int64, bool) {
	row, ok := l.Rows[account]
	if !ok {
		return nil, false
	}
	out := make([]int64, len(row))
	copy(out, row)
	return out, true
}

// Accounts returns every account with a row, sorted.
func (l *Ledger) Accounts() []AccountID {
	accounts := make([]AccountID, 0, len(l.Rows))
	for a := range l.Rows {
		accounts = append(accounts, a)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })
	return accounts
}

// Totals returns the sum of all rows per outcome.
func (l *Ledger) Totals() []int64 {
	totals := make([]int64, l.Outcomes)
	for _, row := range l.Rows {
		for i, v := range row {
			totals[i] += v
		}
	}
	return totals
}

// zero keeps the row but sets every balance to zero.
func (l *Ledger) zero(account AccountID) {
	if row, ok := l.Rows[account]; ok {
		for i := range row {
			row[i] = 0
		}
	}
}

// Clone returns a deep copy.
func (l *Ledger) Clone() *Ledger {
	c := &Ledger{Outcomes: l.Outcomes, Rows: make(map[AccountID][]int64, len(l.Rows))}
	for a, row := range l.Rows {
		r := make([]int64, len(row))
		copy(r, row)
		c.Rows[a] = r
	}
	return c
}

func (l *Ledger) checkOutcome(outcome uint32) error {
	if int(outcome) >= l.Outcomes {
		return fmt.Errorf("outcome %d of %d: %w", outcome, l.Outcomes, ErrInvalidOutcome)
	}
	return nil
}
