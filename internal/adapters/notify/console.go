package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/lmsrmarket/internal/domain"
)

// Console implements ports.Notifier with tables on a writer.
type Console struct {
	out io.Writer
}

// NewConsole creates a notifier that writes to stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter creates a notifier for tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// NotifyMarkets prints one row per market.
func (c *Console) NotifyMarkets(_ context.Context, markets []domain.Market) error {
	now := time.Now().Format("15:04:05")
	if len(markets) == 0 {
		fmt.Fprintf(c.out, "[%s] no markets\n", now)
		return nil
	}

	open := 0
	for _, m := range markets {
		if m.Stage.Is(domain.StageOpen) {
			open++
		}
	}
	fmt.Fprintf(c.out, "\n[%s] %d markets, %d open\n", now, len(markets), open)

	table := tablewriter.NewWriter(c.out)
	table.Header("ID", "Market", "Stage", "Prices", "Collateral", "Liability", "Fees", "Solvent")
	for _, m := range markets {
		table.Append(
			fmt.Sprintf("%d", m.ID),
			truncate(m.Title, 38),
			m.Stage.String(),
			pricesLabel(m),
			tokens(m.CollateralBalance, m.CollateralDecimals),
			tokens(m.Liability(), m.CollateralDecimals),
			tokens(m.FeesAccrued, m.CollateralDecimals),
			yesNo(m.Solvent()),
		)
	}
	table.Render()

	fmt.Fprintln(c.out, "  Amounts in whole collateral tokens. Liability = LMSR cost of outstanding shares.")
	return nil
}

// PrintMarket prints a single market: outcomes, prices and every ledger row.
func (c *Console) PrintMarket(m domain.Market) {
	fmt.Fprintf(c.out, "\n=== MARKET %d: %s ===\n", m.ID, m.Title)
	if m.Description != "" {
		fmt.Fprintf(c.out, "  %s\n", m.Description)
	}
	fmt.Fprintf(c.out, "  Stage: %s | b=%s | fee %d bps | collateral %s (%d decimals)\n",
		m.Stage, m.Liquidity, m.TradeFeeBps, m.CollateralToken, m.CollateralDecimals)
	fmt.Fprintf(c.out, "  Operator: %s | Resolver: %s | Fee owner: %s\n", m.Operator, m.Resolver(), m.FeeOwner)
	if !m.EndTime.IsZero() {
		fmt.Fprintf(c.out, "  Trading ends %s\n", m.EndTime.Format("2006-01-02 15:04"))
	}

	prices := m.Prices()
	totals := m.Ledger.Totals()
	outcomes := tablewriter.NewWriter(c.out)
	outcomes.Header("#", "Outcome", "Shares (q)", "Held", "Price", "Payout")
	for i, o := range m.Outcomes {
		payout := "-"
		if m.Payouts != nil {
			payout = tokens(m.Payouts[i], m.CollateralDecimals)
		}
		outcomes.Append(
			fmt.Sprintf("%d", o.ID),
			o.ShortName,
			fmt.Sprintf("%d", m.OutcomeShares[i]),
			fmt.Sprintf("%d", totals[i]),
			prices[i].StringFixed(4),
			payout,
		)
	}
	outcomes.Render()

	accounts := m.Ledger.Accounts()
	if len(accounts) == 0 {
		fmt.Fprintln(c.out, "  No positions.")
		return
	}
	header := []any{"Account"}
	for _, o := range m.Outcomes {
		header = append(header, o.ShortName)
	}
	positions := tablewriter.NewWriter(c.out)
	positions.Header(header...)
	for _, a := range accounts {
		row, _ := m.Ledger.Positions(a)
		cells := []any{string(a)}
		for _, shares := range row {
			cells = append(cells, fmt.Sprintf("%d", shares))
		}
		positions.Append(cells...)
	}
	positions.Render()
}

// PrintTransfers prints settlement requests, failed ones flagged.
func (c *Console) PrintTransfers(transfers []domain.Transfer) {
	if len(transfers) == 0 {
		fmt.Fprintln(c.out, "  No transfers.")
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Created", "Market", "Account", "Reason", "Amount", "Status", "Error")
	failed := 0
	for _, t := range transfers {
		if t.Status == domain.TransferFailed {
			failed++
		}
		table.Append(
			t.CreatedAt.Format("01-02 15:04:05"),
			fmt.Sprintf("%d", t.MarketID),
			string(t.Account),
			string(t.Reason),
			t.Amount.String(),
			string(t.Status),
			truncate(t.Error, 40),
		)
	}
	table.Render()
	if failed > 0 {
		fmt.Fprintf(c.out, "  WARNING: %d failed transfers need manual reconciliation.\n", failed)
	}
}

// --- helpers ---

func pricesLabel(m domain.Market) string {
	prices := m.Prices()
	parts := make([]string, len(prices))
	for i, p := range prices {
		parts[i] = fmt.Sprintf("%s %s", compactName(m.Outcomes[i].ShortName, 8), p.StringFixed(3))
	}
	return strings.Join(parts, " / ")
}

// tokens renders base units as whole tokens.
func tokens(amount decimal.Decimal, decimals uint8) string {
	return amount.Shift(-int32(decimals)).StringFixed(4)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "NO"
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func compactName(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := s[:maxLen]
	if idx := strings.LastIndex(cut, " "); idx > maxLen/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}
