package domain

import (
	"fmt"
	"time"

	"github.com/alejandrodnm/lmsrmarket/internal/domain/lmsr"
	"github.com/shopspring/decimal"
)

// MarketID is the market's index in the append-only market collection.
type MarketID uint64

const (
	MinOutcomes           = 2
	MaxTradeFeeBps        = 10_000
	MaxCollateralDecimals = 24
)

// DefaultLiquidity is the LMSR b used when a market is created without one.
var DefaultLiquidity = decimal.NewFromInt(50)

// Outcome is one mutually exclusive result. ID equals its position in the market.
type Outcome struct {
	ID        uint32 `json:"id"`
	ShortName string `json:"short_name"`
	LongName  string `json:"long_name"`
}

// MarketConfig carries everything fixed at creation.
type MarketConfig struct {
	Title              string
	Description        string
	Creator            AccountID
	Operator           AccountID // defaults to Creator
	Oracle             AccountID // empty: the operator resolves
	FeeOwner           AccountID // defaults to Operator
	Outcomes           []Outcome
	CollateralToken    string
	CollateralDecimals uint8
	TradeFeeBps        uint32
	ResolutionTime     time.Time
	EndTime            time.Time
	Liquidity          decimal.NullDecimal // unset: DefaultLiquidity
}

// Market is the aggregate root: pricing state, collateral, fees, stage and ledger.
// It is loaded, mutated by exactly one operation and written back as a whole.
type Market struct {
	ID                 MarketID          `json:"id"`
	Title              string            `json:"title"`
	Description        string            `json:"description"`
	Operator           AccountID         `json:"operator"`
	Oracle             AccountID         `json:"oracle,omitempty"`
	FeeOwner           AccountID         `json:"fee_owner"`
	Outcomes           []Outcome         `json:"outcomes"`
	CollateralToken    string            `json:"collateral_token"`
	CollateralDecimals uint8             `json:"collateral_decimals"`
	TradeFeeBps        uint32            `json:"trade_fee_bps"`
	ResolutionTime     time.Time         `json:"resolution_time"`
	EndTime            time.Time         `json:"end_time"`
	Liquidity          decimal.Decimal   `json:"liquidity"`
	OutcomeShares      []int64           `json:"outcome_shares"`
	CollateralBalance  decimal.Decimal   `json:"collateral_balance"`
	FeesAccrued        decimal.Decimal   `json:"fees_accrued"`
	Stage              Stage             `json:"stage"`
	Payouts            []decimal.Decimal `json:"payouts,omitempty"`
	Ledger             *Ledger           `json:"ledger"`
	CreatedAt          time.Time         `json:"created_at"`
}

// NewMarket validates cfg and returns a Proposed market with no id assigned yet.
func NewMarket(cfg MarketConfig, now time.Time) (Market, error) {
	liquidity := DefaultLiquidity
	if cfg.Liquidity.Valid {
		liquidity = cfg.Liquidity.Decimal
	}
	if _, err := lmsr.New(liquidity); err != nil {
		return Market{}, fmt.Errorf("domain.NewMarket: %w: %w", ErrInvalidConfiguration, err)
	}
	if len(cfg.Outcomes) < MinOutcomes {
		return Market{}, fmt.Errorf("domain.NewMarket: %d outcomes, need at least %d: %w",
			len(cfg.Outcomes), MinOutcomes, ErrInvalidConfiguration)
	}
	for i, o := range cfg.Outcomes {
		if o.ID != uint32(i) {
			return Market{}, fmt.Errorf("domain.NewMarket: outcome at position %d has id %d: %w",
				i, o.ID, ErrInvalidConfiguration)
		}
	}
	if cfg.TradeFeeBps > MaxTradeFeeBps {
		return Market{}, fmt.Errorf("domain.NewMarket: trade fee %d bps: %w", cfg.TradeFeeBps, ErrInvalidConfiguration)
	}
	if cfg.CollateralDecimals > MaxCollateralDecimals {
		return Market{}, fmt.Errorf("domain.NewMarket: %d collateral decimals: %w", cfg.CollateralDecimals, ErrInvalidConfiguration)
	}
	if cfg.CollateralToken == "" {
		return Market{}, fmt.Errorf("domain.NewMarket: collateral token required: %w", ErrInvalidConfiguration)
	}

	operator := cfg.Operator
	if operator == "" {
		operator = cfg.Creator
	}
	if operator == "" {
		return Market{}, fmt.Errorf("domain.NewMarket: operator or creator required: %w", ErrInvalidConfiguration)
	}
	feeOwner := cfg.FeeOwner
	if feeOwner == "" {
		feeOwner = operator
	}

	outcomes := make([]Outcome, len(cfg.Outcomes))
	copy(outcomes, cfg.Outcomes)

	return Market{
		Title:              cfg.Title,
		Description:        cfg.Description,
		Operator:           operator,
		Oracle:             cfg.Oracle,
		FeeOwner:           feeOwner,
		Outcomes:           outcomes,
		CollateralToken:    cfg.CollateralToken,
		CollateralDecimals: cfg.CollateralDecimals,
		TradeFeeBps:        cfg.TradeFeeBps,
		ResolutionTime:     cfg.ResolutionTime,
		EndTime:            cfg.EndTime,
		Liquidity:          liquidity,
		OutcomeShares:      make([]int64, len(outcomes)),
		CollateralBalance:  decimal.Zero,
		FeesAccrued:        decimal.Zero,
		Stage:              Proposed(),
		Ledger:             NewLedger(len(outcomes)),
		CreatedAt:          now.UTC(),
	}, nil
}

// Clone returns a deep copy that can be mutated without touching m.
func (m *Market) Clone() Market {
	c := *m
	c.Outcomes = append([]Outcome(nil), m.Outcomes...)
	c.OutcomeShares = append([]int64(nil), m.OutcomeShares...)
	if m.Payouts != nil {
		c.Payouts = append([]decimal.Decimal(nil), m.Payouts...)
	}
	if m.Stage.Resolution != nil {
		r := *m.Stage.Resolution
		c.Stage.Resolution = &r
	}
	if m.Ledger != nil {
		c.Ledger = m.Ledger.Clone()
	}
	return c
}

// Resolver is the account allowed to resolve: the oracle, or the operator without one.
func (m *Market) Resolver() AccountID {
	if m.Oracle != "" {
		return m.Oracle
	}
	return m.Operator
}

func (m *Market) engine() lmsr.Engine {
	e, err := lmsr.New(m.Liquidity)
	if err != nil {
		// Liquidity is validated at creation and never changes.
		panic(fmt.Sprintf("market %d: %v", m.ID, err))
	}
	return e
}

func (m *Market) checkOutcome(outcome uint32) error {
	if int(outcome) >= len(m.Outcomes) {
		return fmt.Errorf("outcome %d of %d: %w", outcome, len(m.Outcomes), ErrInvalidOutcome)
	}
	return nil
}

// Liability is cost(outcome_shares) in base units, rounded up.
func (m *Market) Liability() decimal.Decimal {
	return tokensToBaseCeil(m.engine().Cost(m.OutcomeShares), m.CollateralDecimals)
}

// Solvent reports collateral_balance >= cost(outcome_shares).
func (m *Market) Solvent() bool {
	return m.solventWith(m.OutcomeShares, m.CollateralBalance)
}

func (m *Market) solventWith(q []int64, collateral decimal.Decimal) bool {
	liability := m.engine().Cost(q).Shift(int32(m.CollateralDecimals))
	return collateral.GreaterThanOrEqual(liability)
}

// Price is the marginal price of outcome, in (0, 1).
func (m *Market) Price(outcome uint32) (decimal.Decimal, error) {
	if err := m.checkOutcome(outcome); err != nil {
		return decimal.Zero, fmt.Errorf("market.Price: %w", err)
	}
	return m.engine().Price(m.OutcomeShares, int(outcome))
}

// Prices returns every outcome's marginal price.
func (m *Market) Prices() []decimal.Decimal {
	return m.engine().Prices(m.OutcomeShares)
}

// Balance returns the account's shares of outcome and whether it ever traded here.
func (m *Market) Balance(account AccountID, outcome uint32) (int64, bool, error) {
	if err := m.checkOutcome(outcome); err != nil {
		return 0, false, fmt.Errorf("market.Balance: %w", err)
	}
	bal, ok := m.Ledger.BalanceOf(account, outcome)
	return bal, ok, nil
}
