package transfer

import (
	"context"
	"log/slog"

	"github.com/alejandrodnm/lmsrmarket/internal/domain"
)

// DryRun confirms every transfer after logging it. Used when no webhook is configured.
type DryRun struct{}

// NewDryRun creates a DryRun executor.
func NewDryRun() *DryRun {
	return &DryRun{}
}

// Execute logs t and returns nil.
func (DryRun) Execute(_ context.Context, t domain.Transfer) error {
	slog.Info("dry-run transfer",
		"transfer_id", t.ID,
		"market_id", t.MarketID,
		"account", t.Account,
		"token", t.Token,
		"amount", t.Amount,
		"reason", t.Reason,
	)
	return nil
}
