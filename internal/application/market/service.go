// Package market runs market operations against the store: load, mutate a clone,
// commit the clone together with the transfers it produced. Mutations on the same
// market are serialized; different markets proceed in parallel.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/lmsrmarket/internal/domain"
	"github.com/alejandrodnm/lmsrmarket/internal/ports"
	"github.com/shopspring/decimal"
)

const listPageSize = 100

// Config holds service defaults.
type Config struct {
	DefaultLiquidity decimal.Decimal // used when a market is created without b
}

// Position is one non-zero holding of an account.
type Position struct {
	MarketID  domain.MarketID  `json:"market_id"`
	Title     string           `json:"title"`
	Outcome   uint32           `json:"outcome"`
	ShortName string           `json:"short_name"`
	Shares    int64            `json:"shares"`
	Stage     domain.StageKind `json:"stage"`
}

// Service is the dispatch layer over the market arena.
type Service struct {
	cfg       Config
	markets   ports.MarketStore
	transfers ports.TransferStore
	now       func() time.Time

	// MarketID -> *sync.Mutex. Markets are never deleted, so entries stay for the process lifetime.
	locks sync.Map
}

// New creates a Service.
func New(cfg Config, markets ports.MarketStore, transfers ports.TransferStore) *Service {
	return &Service{
		cfg:       cfg,
		markets:   markets,
		transfers: transfers,
		now:       time.Now,
	}
}

// lock returns the held mutex for id; callers unlock it.
func (s *Service) lock(id domain.MarketID) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	l := v.(*sync.Mutex)
	l.Lock()
	return l
}

// mutate applies fn to a copy of the stored market and commits the copy with the
// transfers fn returns. On any error the stored market is untouched.
func (s *Service) mutate(ctx context.Context, id domain.MarketID, fn func(m *domain.Market) ([]domain.Transfer, error)) (domain.Market, error) {
	l := s.lock(id)
	defer l.Unlock()

	stored, err := s.markets.GetMarket(ctx, id)
	if err != nil {
		return domain.Market{}, err
	}
	m := stored.Clone()
	transfers, err := fn(&m)
	if err != nil {
		return domain.Market{}, err
	}
	if err := s.markets.Commit(ctx, m, transfers); err != nil {
		return domain.Market{}, err
	}
	return m, nil
}

// transfer builds a pending payout, or nothing when amount is zero.
func (s *Service) transfer(m *domain.Market, account domain.AccountID, amount decimal.Decimal, reason domain.TransferReason) []domain.Transfer {
	if !amount.IsPositive() {
		return nil
	}
	return []domain.Transfer{domain.NewTransfer(m, account, amount, reason, s.now())}
}

// Create validates cfg and appends a new Proposed market.
func (s *Service) Create(ctx context.Context, cfg domain.MarketConfig) (domain.MarketID, error) {
	if !cfg.Liquidity.Valid && s.cfg.DefaultLiquidity.IsPositive() {
		cfg.Liquidity = decimal.NewNullDecimal(s.cfg.DefaultLiquidity)
	}
	m, err := domain.NewMarket(cfg, s.now())
	if err != nil {
		return 0, fmt.Errorf("market.Create: %w", err)
	}
	id, err := s.markets.CreateMarket(ctx, m)
	if err != nil {
		return 0, fmt.Errorf("market.Create: %w", err)
	}
	slog.Info("market created",
		"market_id", id,
		"title", m.Title,
		"outcomes", len(m.Outcomes),
		"liquidity", m.Liquidity,
		"operator", m.Operator,
	)
	return id, nil
}

// Open enables trading.
func (s *Service) Open(ctx context.Context, id domain.MarketID, caller domain.AccountID) error {
	_, err := s.mutate(ctx, id, func(m *domain.Market) ([]domain.Transfer, error) {
		return nil, m.Open(caller)
	})
	if err != nil {
		return fmt.Errorf("market.Open: %w", err)
	}
	slog.Info("market opened", "market_id", id)
	return nil
}

// Pause stops trading until the operator reopens.
func (s *Service) Pause(ctx context.Context, id domain.MarketID, caller domain.AccountID) error {
	_, err := s.mutate(ctx, id, func(m *domain.Market) ([]domain.Transfer, error) {
		return nil, m.Pause(caller)
	})
	if err != nil {
		return fmt.Errorf("market.Pause: %w", err)
	}
	slog.Info("market paused", "market_id", id)
	return nil
}

// Resolve finalizes the market from a payout vector.
func (s *Service) Resolve(ctx context.Context, id domain.MarketID, caller domain.AccountID, payouts []decimal.Decimal) (domain.Stage, error) {
	m, err := s.mutate(ctx, id, func(m *domain.Market) ([]domain.Transfer, error) {
		return nil, m.Resolve(caller, payouts)
	})
	if err != nil {
		return domain.Stage{}, fmt.Errorf("market.Resolve: %w", err)
	}
	slog.Info("market finalized", "market_id", id, "stage", m.Stage.String())
	return m.Stage, nil
}

// Deposit adds collateral. token must be the market's collateral token.
func (s *Service) Deposit(ctx context.Context, id domain.MarketID, token string, amount decimal.Decimal) error {
	m, err := s.mutate(ctx, id, func(m *domain.Market) ([]domain.Transfer, error) {
		if err := checkToken(m, token); err != nil {
			return nil, err
		}
		return nil, m.DepositCollateral(amount)
	})
	if err != nil {
		return fmt.Errorf("market.Deposit: %w", err)
	}
	slog.Info("collateral deposited", "market_id", id, "amount", amount, "balance", m.CollateralBalance)
	return nil
}

// Buy executes a buy paid with payment base units of token. Any overpayment is
// queued back to the account as a REFUND transfer.
func (s *Service) Buy(ctx context.Context, id domain.MarketID, account domain.AccountID, outcome uint32, shares int64, token string, payment decimal.Decimal) (domain.TradeReceipt, error) {
	var receipt domain.TradeReceipt
	_, err := s.mutate(ctx, id, func(m *domain.Market) ([]domain.Transfer, error) {
		if err := checkToken(m, token); err != nil {
			return nil, err
		}
		var err error
		receipt, err = m.Buy(account, outcome, shares, payment)
		if err != nil {
			return nil, err
		}
		return s.transfer(m, account, receipt.Payout, domain.ReasonRefund), nil
	})
	if err != nil {
		return domain.TradeReceipt{}, fmt.Errorf("market.Buy: %w", err)
	}
	slog.Info("shares bought",
		"market_id", id,
		"account", account,
		"outcome", outcome,
		"shares", shares,
		"cost", receipt.Value,
		"fee", receipt.Fee,
		"refund", receipt.Payout,
	)
	return receipt, nil
}

// Sell executes a sell; the proceeds net of fee are queued as SELL_PROCEEDS.
func (s *Service) Sell(ctx context.Context, id domain.MarketID, account domain.AccountID, outcome uint32, shares int64) (domain.TradeReceipt, error) {
	var receipt domain.TradeReceipt
	_, err := s.mutate(ctx, id, func(m *domain.Market) ([]domain.Transfer, error) {
		var err error
		receipt, err = m.Sell(account, outcome, shares)
		if err != nil {
			return nil, err
		}
		return s.transfer(m, account, receipt.Payout, domain.ReasonSellProceeds), nil
	})
	if err != nil {
		return domain.TradeReceipt{}, fmt.Errorf("market.Sell: %w", err)
	}
	slog.Info("shares sold",
		"market_id", id,
		"account", account,
		"outcome", outcome,
		"shares", shares,
		"proceeds", receipt.Value,
		"fee", receipt.Fee,
	)
	return receipt, nil
}

// WithdrawFees queues every accrued fee to the fee owner. Returns nil when there
// was nothing to withdraw.
func (s *Service) WithdrawFees(ctx context.Context, id domain.MarketID) (*domain.Transfer, error) {
	var out []domain.Transfer
	_, err := s.mutate(ctx, id, func(m *domain.Market) ([]domain.Transfer, error) {
		out = s.transfer(m, m.FeeOwner, m.WithdrawFees(), domain.ReasonFeeWithdrawal)
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("market.WithdrawFees: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	slog.Info("fees withdrawn", "market_id", id, "fee_owner", out[0].Account, "amount", out[0].Amount)
	return &out[0], nil
}

// Redeem pays out a finalized position.
func (s *Service) Redeem(ctx context.Context, id domain.MarketID, account domain.AccountID) (domain.RedeemReceipt, error) {
	var receipt domain.RedeemReceipt
	_, err := s.mutate(ctx, id, func(m *domain.Market) ([]domain.Transfer, error) {
		var err error
		receipt, err = m.Redeem(account)
		if err != nil {
			return nil, err
		}
		return s.transfer(m, account, receipt.Payout, domain.ReasonRedemption), nil
	})
	if err != nil {
		return domain.RedeemReceipt{}, fmt.Errorf("market.Redeem: %w", err)
	}
	slog.Info("position redeemed", "market_id", id, "account", account, "payout", receipt.Payout)
	return receipt, nil
}

// --- queries ---

// Get returns the stored market.
func (s *Service) Get(ctx context.Context, id domain.MarketID) (domain.Market, error) {
	m, err := s.markets.GetMarket(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market.Get: %w", err)
	}
	return m, nil
}

// Count returns the number of markets ever created.
func (s *Service) Count(ctx context.Context) (uint64, error) {
	n, err := s.markets.CountMarkets(ctx)
	if err != nil {
		return 0, fmt.Errorf("market.Count: %w", err)
	}
	return n, nil
}

// List returns up to limit markets from id offset on.
func (s *Service) List(ctx context.Context, offset domain.MarketID, limit int) ([]domain.Market, error) {
	if limit <= 0 || limit > listPageSize {
		limit = listPageSize
	}
	markets, err := s.markets.ListMarkets(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("market.List: %w", err)
	}
	return markets, nil
}

// Price returns the marginal price of one outcome.
func (s *Service) Price(ctx context.Context, id domain.MarketID, outcome uint32) (decimal.Decimal, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return m.Price(outcome)
}

// Prices returns every outcome's marginal price.
func (s *Service) Prices(ctx context.Context, id domain.MarketID) ([]decimal.Decimal, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.Prices(), nil
}

// Quote prices a trade against the current state without executing it.
func (s *Service) Quote(ctx context.Context, id domain.MarketID, outcome uint32, shares int64, side domain.Side) (domain.Quote, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return domain.Quote{}, err
	}
	return m.QuoteTrade(outcome, shares, side)
}

// SharesForBudget returns how many shares of outcome budget buys right now.
func (s *Service) SharesForBudget(ctx context.Context, id domain.MarketID, outcome uint32, budget decimal.Decimal) (int64, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return m.SharesForBudget(outcome, budget)
}

// Balance returns an account's shares of one outcome and whether it has a ledger row.
func (s *Service) Balance(ctx context.Context, id domain.MarketID, account domain.AccountID, outcome uint32) (int64, bool, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return 0, false, err
	}
	return m.Balance(account, outcome)
}

// Stage returns the market's lifecycle stage.
func (s *Service) Stage(ctx context.Context, id domain.MarketID) (domain.Stage, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return domain.Stage{}, err
	}
	return m.Stage, nil
}

// AccountBalances lists every non-zero position of account across all markets.
func (s *Service) AccountBalances(ctx context.Context, account domain.AccountID) ([]Position, error) {
	var positions []Position
	var offset domain.MarketID
	for {
		page, err := s.markets.ListMarkets(ctx, offset, listPageSize)
		if err != nil {
			return nil, fmt.Errorf("market.AccountBalances: %w", err)
		}
		for _, m := range page {
			row, ok := m.Ledger.Positions(account)
			if !ok {
				continue
			}
			for i, shares := range row {
				if shares == 0 {
					continue
				}
				positions = append(positions, Position{
					MarketID:  m.ID,
					Title:     m.Title,
					Outcome:   uint32(i),
					ShortName: m.Outcomes[i].ShortName,
					Shares:    shares,
					Stage:     m.Stage.Kind,
				})
			}
		}
		if len(page) < listPageSize {
			return positions, nil
		}
		offset = page[len(page)-1].ID + 1
	}
}

// Transfers lists the settlement requests a market has produced.
func (s *Service) Transfers(ctx context.Context, id domain.MarketID) ([]domain.Transfer, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	transfers, err := s.transfers.ListTransfers(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("market.Transfers: %w", err)
	}
	return transfers, nil
}

// Transfer returns one settlement request of market id.
// A transfer belonging to another market is reported as not found.
func (s *Service) Transfer(ctx context.Context, id domain.MarketID, transferID string) (domain.Transfer, error) {
	t, err := s.transfers.GetTransfer(ctx, transferID)
	if err != nil {
		return domain.Transfer{}, fmt.Errorf("market.Transfer: %w", err)
	}
	if t.MarketID != id {
		return domain.Transfer{}, fmt.Errorf("market.Transfer: %s in market %d: %w", transferID, id, domain.ErrNotFound)
	}
	return t, nil
}

func checkToken(m *domain.Market, token string) error {
	if token != m.CollateralToken {
		return fmt.Errorf("got %q, market %d takes %q: %w", token, m.ID, m.CollateralToken, domain.ErrCollateralMismatch)
	}
	return nil
}
