package domain

import (
	"errors"

	"github.com/alejandrodnm/lmsrmarket/internal/domain/lmsr"
)

// Error kinds surfaced by market operations. A failed operation never leaves a
// partially updated market behind.
var (
	ErrInvalidConfiguration   = errors.New("invalid market configuration")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalidStageTransition = errors.New("operation not allowed in current stage")
	ErrInsufficientPayment    = errors.New("insufficient payment")
	ErrInsufficientShares     = errors.New("insufficient shares")
	ErrInvalidPayoutVector    = errors.New("invalid payout vector")
	ErrUndercollateralized    = errors.New("collateral below market liability")
	ErrCollateralMismatch     = errors.New("collateral token mismatch")
	ErrNotFound               = errors.New("not found")

	// Shared with the pricing engine so callers only need one set of kinds.
	ErrArithmeticOverflow = lmsr.ErrOverflow
	ErrInvalidAmount      = lmsr.ErrInvalidQuantity
	ErrInvalidOutcome     = lmsr.ErrOutcomeRange
)
