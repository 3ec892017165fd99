package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferReason tells why collateral leaves a market.
type TransferReason string

const (
	ReasonRefund        TransferReason = "REFUND"
	ReasonSellProceeds  TransferReason = "SELL_PROCEEDS"
	ReasonFeeWithdrawal TransferReason = "FEE_WITHDRAWAL"
	ReasonRedemption    TransferReason = "REDEMPTION"
)

// TransferStatus tracks a transfer intent through settlement.
type TransferStatus string

const (
	TransferPending   TransferStatus = "PENDING"
	TransferConfirmed TransferStatus = "CONFIRMED"
	TransferFailed    TransferStatus = "FAILED"
)

// Transfer is a request to pay collateral out of a market. It is stored together
// with the market state that produced it and executed later by settlement.
// A failed transfer does not roll back the market.
type Transfer struct {
	ID        string          `json:"id"`
	MarketID  MarketID        `json:"market_id"`
	Account   AccountID       `json:"account"`
	Token     string          `json:"token"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    TransferReason  `json:"reason"`
	Status    TransferStatus  `json:"status"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	SettledAt *time.Time      `json:"settled_at,omitempty"`
}

// NewTransfer builds a pending transfer of amount collateral from m to account.
func NewTransfer(m *Market, account AccountID, amount decimal.Decimal, reason TransferReason, now time.Time) Transfer {
	return Transfer{
		ID:        uuid.New().String(),
		MarketID:  m.ID,
		Account:   account,
		Token:     m.CollateralToken,
		Amount:    amount,
		Reason:    reason,
		Status:    TransferPending,
		CreatedAt: now.UTC(),
	}
}

// Settle records the executor's outcome. err == nil confirms the transfer.
func (t *Transfer) Settle(err error, now time.Time) {
	at := now.UTC()
	t.SettledAt = &at
	if err != nil {
		t.Status = TransferFailed
		t.Error = err.Error()
		return
	}
	t.Status = TransferConfirmed
	t.Error = ""
}
