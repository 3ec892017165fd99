package ports

import (
	"context"

	"github.com/alejandrodnm/lmsrmarket/internal/domain"
)

// TransferExecutor moves collateral out to an account.
type TransferExecutor interface {
	// Execute performs the transfer. The transfer id is stable and may be used as an
	// idempotency key; a nil error means the transfer is confirmed.
	Execute(ctx context.Context, t domain.Transfer) error
}
