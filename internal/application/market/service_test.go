package market_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/lmsrmarket/internal/adapters/storage"
	"github.com/alejandrodnm/lmsrmarket/internal/application/market"
	"github.com/alejandrodnm/lmsrmarket/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const token = "usdc.token"

func tokens(n int64) decimal.Decimal {
	return decimal.NewFromInt(n).Shift(9)
}

func newService(t *testing.T) *market.Service {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return market.New(market.Config{DefaultLiquidity: decimal.NewFromInt(50)}, db, db)
}

func marketConfig() domain.MarketConfig {
	return domain.MarketConfig{
		Title:   "Will the bill pass?",
		Creator: "operator",
		Oracle:  "oracle",
		Outcomes: []domain.Outcome{
			{ID: 0, ShortName: "YES"},
			{ID: 1, ShortName: "NO"},
		},
		CollateralToken:    token,
		CollateralDecimals: 9,
		TradeFeeBps:        1,
		EndTime:            time.Now().Add(24 * time.Hour),
	}
}

// openMarket creates, funds with 100 tokens and opens a market.
func openMarket(t *testing.T, svc *market.Service) domain.MarketID {
	t.Helper()
	ctx := context.Background()
	id, err := svc.Create(ctx, marketConfig())
	require.NoError(t, err)
	require.NoError(t, svc.Deposit(ctx, id, token, tokens(100)))
	require.NoError(t, svc.Open(ctx, id, "operator"))
	return id
}

func TestService_CreateAssignsArenaIDs(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, marketConfig())
	require.NoError(t, err)
	second, err := svc.Create(ctx, marketConfig())
	require.NoError(t, err)

	assert.Equal(t, domain.MarketID(0), first)
	assert.Equal(t, domain.MarketID(1), second)

	n, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	stage, err := svc.Stage(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, domain.StageProposed, stage.Kind)
}

func TestService_CreateRejectsInvalidConfig(t *testing.T) {
	svc := newService(t)
	cfg := marketConfig()
	cfg.Outcomes = cfg.Outcomes[:1]

	_, err := svc.Create(context.Background(), cfg)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	n, err := svc.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestService_EndToEnd(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	id := openMarket(t, svc)

	bought, err := svc.Buy(ctx, id, "alice", 0, 5, token, tokens(3))
	require.NoError(t, err)

	bal, found, err := svc.Balance(ctx, id, "alice", 0)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(5), bal)

	sold, err := svc.Sell(ctx, id, "alice", 0, 1)
	require.NoError(t, err)

	bal, _, err = svc.Balance(ctx, id, "alice", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), bal)

	transfers, err := svc.Transfers(ctx, id)
	require.NoError(t, err)
	require.Len(t, transfers, 2)
	assert.Equal(t, domain.ReasonRefund, transfers[0].Reason)
	assert.True(t, transfers[0].Amount.Equal(bought.Payout))
	assert.Equal(t, domain.ReasonSellProceeds, transfers[1].Reason)
	assert.True(t, transfers[1].Amount.Equal(sold.Payout))
	assert.Equal(t, domain.TransferPending, transfers[1].Status)
	assert.Equal(t, domain.AccountID("alice"), transfers[1].Account)

	prices, err := svc.Prices(ctx, id)
	require.NoError(t, err)
	assert.True(t, prices[0].GreaterThan(prices[1]))
}

func TestService_FailedOperationLeavesMarketUntouched(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	id := openMarket(t, svc)
	before, err := svc.Get(ctx, id)
	require.NoError(t, err)

	_, err = svc.Buy(ctx, id, "alice", 0, 10, token, tokens(1))
	assert.ErrorIs(t, err, domain.ErrInsufficientPayment)

	_, err = svc.Sell(ctx, id, "alice", 0, 1)
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)

	after, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.OutcomeShares, after.OutcomeShares)
	assert.True(t, before.CollateralBalance.Equal(after.CollateralBalance))
	assert.Empty(t, after.Ledger.Accounts())

	transfers, err := svc.Transfers(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, transfers)
}

func TestService_CollateralTokenMismatch(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	id := openMarket(t, svc)

	err := svc.Deposit(ctx, id, "dai.token", tokens(1))
	assert.ErrorIs(t, err, domain.ErrCollateralMismatch)

	_, err = svc.Buy(ctx, id, "alice", 0, 1, "dai.token", tokens(1))
	assert.ErrorIs(t, err, domain.ErrCollateralMismatch)
}

func TestService_UnknownMarket(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Open(ctx, 9, "operator"), domain.ErrNotFound)
	_, err := svc.Price(ctx, 9, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.Transfers(ctx, 9)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_WithdrawFees(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	id := openMarket(t, svc)

	tr, err := svc.WithdrawFees(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, tr, "nothing accrued yet")

	bought, err := svc.Buy(ctx, id, "alice", 1, 10, token, tokens(6))
	require.NoError(t, err)

	tr, err = svc.WithdrawFees(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, domain.AccountID("operator"), tr.Account)
	assert.Equal(t, domain.ReasonFeeWithdrawal, tr.Reason)
	assert.True(t, tr.Amount.Equal(bought.Fee))

	m, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, m.FeesAccrued.IsZero())
}

func TestService_ResolveAndRedeem(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	id := openMarket(t, svc)

	_, err := svc.Buy(ctx, id, "alice", 0, 5, token, tokens(3))
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, id, "operator", []decimal.Decimal{tokens(1), decimal.Zero})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	stage, err := svc.Resolve(ctx, id, "oracle", []decimal.Decimal{tokens(1), decimal.Zero})
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionResolved, stage.Resolution.Kind)

	_, err = svc.Buy(ctx, id, "alice", 0, 1, token, tokens(1))
	assert.ErrorIs(t, err, domain.ErrInvalidStageTransition)

	receipt, err := svc.Redeem(ctx, id, "alice")
	require.NoError(t, err)
	assert.Equal(t, "5000000000", receipt.Payout.String())

	transfers, err := svc.Transfers(ctx, id)
	require.NoError(t, err)
	last := transfers[len(transfers)-1]
	assert.Equal(t, domain.ReasonRedemption, last.Reason)
	assert.True(t, last.Amount.Equal(receipt.Payout))
}

func TestService_AccountBalances(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	a := openMarket(t, svc)
	b := openMarket(t, svc)

	_, err := svc.Buy(ctx, a, "alice", 1, 2, token, tokens(2))
	require.NoError(t, err)
	_, err = svc.Buy(ctx, b, "alice", 0, 3, token, tokens(2))
	require.NoError(t, err)
	_, err = svc.Buy(ctx, b, "bob", 0, 1, token, tokens(1))
	require.NoError(t, err)

	positions, err := svc.AccountBalances(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, market.Position{MarketID: a, Title: "Will the bill pass?", Outcome: 1, ShortName: "NO", Shares: 2, Stage: domain.StageOpen}, positions[0])
	assert.Equal(t, b, positions[1].MarketID)
	assert.Equal(t, int64(3), positions[1].Shares)
}

func TestService_QuoteAndBudget(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	id := openMarket(t, svc)

	q, err := svc.Quote(ctx, id, 0, 10, domain.SideBuy)
	require.NoError(t, err)
	assert.True(t, q.Value.GreaterThan(decimal.NewFromInt(5_200_000_000)))

	k, err := svc.SharesForBudget(ctx, id, 0, q.Total)
	require.NoError(t, err)
	assert.Equal(t, int64(10), k)
}

func TestService_ConcurrentBuysSerialize(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	id := openMarket(t, svc)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Buy(ctx, id, "alice", 0, 1, token, tokens(1))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	bal, _, err := svc.Balance(ctx, id, "alice", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(20), bal)

	m, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 0}, m.OutcomeShares)
	assert.True(t, m.Solvent())
}

func TestService_TransferLookup(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	id := openMarket(t, svc)
	other := openMarket(t, svc)

	_, err := svc.Buy(ctx, id, "alice", 0, 1, token, tokens(2))
	require.NoError(t, err)
	transfers, err := svc.Transfers(ctx, id)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	refund := transfers[0]

	got, err := svc.Transfer(ctx, id, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonRefund, got.Reason)
	assert.Equal(t, domain.AccountID("alice"), got.Account)
	assert.Equal(t, domain.TransferPending, got.Status)

	_, err = svc.Transfer(ctx, other, refund.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.Transfer(ctx, id, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
