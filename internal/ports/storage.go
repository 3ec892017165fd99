package ports

import (
	"context"

	"github.com/alejandrodnm/lmsrmarket/internal/domain"
)

// MarketStore is the append-only market arena. Markets are never deleted.
type MarketStore interface {
	// CreateMarket assigns the next id (the current market count) and persists m.
	CreateMarket(ctx context.Context, m domain.Market) (domain.MarketID, error)

	// GetMarket returns the stored market or domain.ErrNotFound.
	GetMarket(ctx context.Context, id domain.MarketID) (domain.Market, error)

	// CountMarkets returns how many markets exist; ids run from 0 to count-1.
	CountMarkets(ctx context.Context) (uint64, error)

	// ListMarkets returns up to limit markets starting at id offset, in id order.
	ListMarkets(ctx context.Context, offset domain.MarketID, limit int) ([]domain.Market, error)

	// Commit replaces the stored market and inserts the transfers it produced,
	// atomically. Either both are stored or neither is.
	Commit(ctx context.Context, m domain.Market, transfers []domain.Transfer) error
}

// TransferStore is the settlement queue.
type TransferStore interface {
	// PendingTransfers returns up to limit PENDING transfers, oldest first.
	PendingTransfers(ctx context.Context, limit int) ([]domain.Transfer, error)

	// UpdateTransfer stores a settled transfer (status, error, settled_at).
	UpdateTransfer(ctx context.Context, t domain.Transfer) error

	// GetTransfer returns one transfer by id, or domain.ErrNotFound.
	GetTransfer(ctx context.Context, id string) (domain.Transfer, error)

	// ListTransfers returns every transfer of a market, oldest first.
	ListTransfers(ctx context.Context, marketID domain.MarketID) ([]domain.Transfer, error)
}

// Storage is what a persistence driver provides.
type Storage interface {
	MarketStore
	TransferStore

	// Close releases the underlying database.
	Close() error
}
