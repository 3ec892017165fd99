package storage_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/alejandrodnm/lmsrmarket/internal/adapters/storage"
	"github.com/alejandrodnm/lmsrmarket/internal/domain"
	"github.com/alejandrodnm/lmsrmarket/internal/ports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eachDriver runs fn against a fresh in-memory store of every driver.
func eachDriver(t *testing.T, fn func(t *testing.T, db ports.Storage)) {
	t.Run("sqlite", func(t *testing.T) {
		db, err := storage.NewSQLiteStorage(":memory:")
		require.NoError(t, err)
		defer db.Close()
		fn(t, db)
	})
	t.Run("badger", func(t *testing.T) {
		db, err := storage.NewBadgerStorage("")
		require.NoError(t, err)
		defer db.Close()
		fn(t, db)
	})
}

func makeMarket(t *testing.T, title string) domain.Market {
	t.Helper()
	m, err := domain.NewMarket(domain.MarketConfig{
		Title:   title,
		Creator: "operator",
		Outcomes: []domain.Outcome{
			{ID: 0, ShortName: "YES"},
			{ID: 1, ShortName: "NO"},
		},
		CollateralToken:    "usdc.token",
		CollateralDecimals: 6,
		TradeFeeBps:        25,
	}, time.Now().UTC().Truncate(time.Second))
	require.NoError(t, err)
	return m
}

func TestStorage_CreateAssignsSequentialIDs(t *testing.T) {
	eachDriver(t, func(t *testing.T, db ports.Storage) {
		ctx := context.Background()

		for want := 0; want < 3; want++ {
			id, err := db.CreateMarket(ctx, makeMarket(t, "market"))
			require.NoError(t, err)
			assert.Equal(t, domain.MarketID(want), id)
		}

		count, err := db.CountMarkets(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), count)
	})
}

func TestStorage_GetRoundTripsAggregate(t *testing.T) {
	eachDriver(t, func(t *testing.T, db ports.Storage) {
		ctx := context.Background()
		m := makeMarket(t, "Will it rain?")
		require.NoError(t, m.DepositCollateral(decimal.NewFromInt(100_000_000)))
		require.NoError(t, m.Open("operator"))

		id, err := db.CreateMarket(ctx, m)
		require.NoError(t, err)
		m.ID = id
		_, err = m.Buy("alice", 1, 3, decimal.NewFromInt(5_000_000))
		require.NoError(t, err)
		require.NoError(t, db.Commit(ctx, m, nil))

		got, err := db.GetMarket(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Will it rain?", got.Title)
		assert.Equal(t, domain.StageOpen, got.Stage.Kind)
		assert.Equal(t, []int64{0, 3}, got.OutcomeShares)
		assert.True(t, got.CollateralBalance.Equal(m.CollateralBalance))
		assert.True(t, got.FeesAccrued.Equal(m.FeesAccrued))
		assert.True(t, got.Liquidity.Equal(m.Liquidity))

		bal, found := got.Ledger.BalanceOf("alice", 1)
		assert.True(t, found)
		assert.Equal(t, int64(3), bal)
		_, found = got.Ledger.BalanceOf("alice", 2)
		assert.False(t, found)
	})
}

func TestStorage_GetMissing(t *testing.T) {
	eachDriver(t, func(t *testing.T, db ports.Storage) {
		_, err := db.GetMarket(context.Background(), 42)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		err = db.Commit(context.Background(), makeMarket(t, "ghost"), nil)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestStorage_ListMarketsPaginates(t *testing.T) {
	eachDriver(t, func(t *testing.T, db ports.Storage) {
		ctx := context.Background()
		for _, title := range []string{"a", "b", "c", "d"} {
			_, err := db.CreateMarket(ctx, makeMarket(t, title))
			require.NoError(t, err)
		}

		page, err := db.ListMarkets(ctx, 1, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "b", page[0].Title)
		assert.Equal(t, domain.MarketID(2), page[1].ID)

		page, err = db.ListMarkets(ctx, 10, 5)
		require.NoError(t, err)
		assert.Empty(t, page)
	})
}

func TestStorage_TransferQueue(t *testing.T) {
	eachDriver(t, func(t *testing.T, db ports.Storage) {
		ctx := context.Background()
		m := makeMarket(t, "queue")
		id, err := db.CreateMarket(ctx, m)
		require.NoError(t, err)
		m.ID = id

		now := time.Now()
		first := domain.NewTransfer(&m, "alice", decimal.NewFromInt(10), domain.ReasonRefund, now)
		second := domain.NewTransfer(&m, "bob", decimal.NewFromInt(20), domain.ReasonSellProceeds, now)
		require.NoError(t, db.Commit(ctx, m, []domain.Transfer{first, second}))

		pending, err := db.PendingTransfers(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, first.ID, pending[0].ID)
		assert.Equal(t, "10", pending[0].Amount.String())
		assert.Equal(t, "usdc.token", pending[0].Token)

		first.Settle(nil, now)
		require.NoError(t, db.UpdateTransfer(ctx, first))

		pending, err = db.PendingTransfers(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, second.ID, pending[0].ID)

		got, err := db.GetTransfer(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TransferConfirmed, got.Status)
		require.NotNil(t, got.SettledAt)

		all, err := db.ListTransfers(ctx, m.ID)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, domain.ReasonSellProceeds, all[1].Reason)
	})
}

func TestStorage_TransferErrors(t *testing.T) {
	eachDriver(t, func(t *testing.T, db ports.Storage) {
		_, err := db.GetTransfer(context.Background(), "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		err = db.UpdateTransfer(context.Background(), domain.Transfer{ID: "missing", Status: domain.TransferFailed})
		assert.ErrorIs(t, err, domain.ErrNotFound)

		pending, err := db.PendingTransfers(context.Background(), 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})
}

func TestStorage_FailedCommitStoresNothing(t *testing.T) {
	eachDriver(t, func(t *testing.T, db ports.Storage) {
		ctx := context.Background()
		ghost := makeMarket(t, "ghost")
		ghost.ID = 7
		tr := domain.NewTransfer(&ghost, "alice", decimal.NewFromInt(1), domain.ReasonRefund, time.Now())

		require.Error(t, db.Commit(ctx, ghost, []domain.Transfer{tr}))

		pending, err := db.PendingTransfers(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})
}

// --- SQLite only ---

func TestSQLite_CorruptTimestampIsAnError(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "amm.db")

	db, err := storage.NewSQLiteStorage(path)
	require.NoError(t, err)
	m := makeMarket(t, "corrupt")
	m.ID, err = db.CreateMarket(ctx, m)
	require.NoError(t, err)
	tr := domain.NewTransfer(&m, "alice", decimal.NewFromInt(10), domain.ReasonRefund, time.Now())
	require.NoError(t, db.Commit(ctx, m, []domain.Transfer{tr}))
	require.NoError(t, db.Close())

	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = raw.Exec(`UPDATE transfers SET created_at = 'yesterday-ish' WHERE id = ?`, tr.ID)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	db, err = storage.NewSQLiteStorage(path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.GetTransfer(ctx, tr.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "created_at")

	_, err = db.ListTransfers(ctx, m.ID)
	assert.Error(t, err)
}
