package ports

import (
	"context"

	"github.com/alejandrodnm/lmsrmarket/internal/domain"
)

// Notifier presents market state to an operator.
type Notifier interface {
	// NotifyMarkets prints a summary of the given markets.
	// The console implementation renders a table.
	NotifyMarkets(ctx context.Context, markets []domain.Market) error
}
