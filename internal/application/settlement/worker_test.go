package settlement_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/lmsrmarket/internal/adapters/storage"
	"github.com/alejandrodnm/lmsrmarket/internal/application/settlement"
	"github.com/alejandrodnm/lmsrmarket/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor fails transfers to accounts listed in fail.
type fakeExecutor struct {
	mu   sync.Mutex
	fail map[domain.AccountID]bool
	seen []string
}

func (f *fakeExecutor) Execute(_ context.Context, t domain.Transfer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, t.ID)
	if f.fail[t.Account] {
		return errors.New("wallet rejected transfer")
	}
	return nil
}

func seed(t *testing.T, db *storage.SQLiteStorage, accounts ...domain.AccountID) []domain.Transfer {
	t.Helper()
	ctx := context.Background()
	m, err := domain.NewMarket(domain.MarketConfig{
		Creator:         "operator",
		Outcomes:        []domain.Outcome{{ID: 0, ShortName: "YES"}, {ID: 1, ShortName: "NO"}},
		CollateralToken: "usdc.token",
	}, time.Now())
	require.NoError(t, err)
	m.ID, err = db.CreateMarket(ctx, m)
	require.NoError(t, err)

	var transfers []domain.Transfer
	for _, a := range accounts {
		transfers = append(transfers, domain.NewTransfer(&m, a, decimal.NewFromInt(100), domain.ReasonRefund, time.Now()))
	}
	require.NoError(t, db.Commit(ctx, m, transfers))
	return transfers
}

func newStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestWorker_RunOnceSettlesBatch(t *testing.T) {
	db := newStore(t)
	transfers := seed(t, db, "alice", "bob", "carol")
	exec := &fakeExecutor{fail: map[domain.AccountID]bool{"bob": true}}
	w := settlement.New(settlement.Config{BatchSize: 10}, db, exec)

	sum, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, settlement.Summary{Confirmed: 2, Failed: 1}, sum)
	assert.Equal(t, []string{transfers[0].ID, transfers[1].ID, transfers[2].ID}, exec.seen)

	failed, err := db.GetTransfer(context.Background(), transfers[1].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferFailed, failed.Status)
	assert.Equal(t, "wallet rejected transfer", failed.Error)
	require.NotNil(t, failed.SettledAt)

	ok, err := db.GetTransfer(context.Background(), transfers[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferConfirmed, ok.Status)
}

func TestWorker_FailedTransfersAreNotRetried(t *testing.T) {
	db := newStore(t)
	seed(t, db, "bob")
	exec := &fakeExecutor{fail: map[domain.AccountID]bool{"bob": true}}
	w := settlement.New(settlement.Config{}, db, exec)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	sum, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Zero(t, sum.Failed+sum.Confirmed)
	assert.Len(t, exec.seen, 1)
}

func TestWorker_BatchSizeLimitsPass(t *testing.T) {
	db := newStore(t)
	seed(t, db, "a", "b", "c", "d", "e")
	exec := &fakeExecutor{}
	w := settlement.New(settlement.Config{BatchSize: 2}, db, exec)

	sum, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Confirmed)

	pending, err := db.PendingTransfers(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	db := newStore(t)
	seed(t, db, "alice")
	exec := &fakeExecutor{}
	w := settlement.New(settlement.Config{Interval: 10 * time.Millisecond}, db, exec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		pending, err := db.PendingTransfers(context.Background(), 10)
		return err == nil && len(pending) == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

// unrecordedStore accepts reads but fails every status update.
type unrecordedStore struct {
	*storage.SQLiteStorage
}

func (unrecordedStore) UpdateTransfer(context.Context, domain.Transfer) error {
	return errors.New("disk full")
}

func TestWorker_UnrecordedTransferIsLoggedAndStaysPending(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	db := newStore(t)
	transfers := seed(t, db, "alice")
	exec := &fakeExecutor{}
	w := settlement.New(settlement.Config{}, unrecordedStore{db}, exec)

	_, err := w.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, exec.seen, 1)

	out := logs.String()
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, "transfer executed but not recorded")
	assert.Contains(t, out, transfers[0].ID)

	stored, err := db.GetTransfer(context.Background(), transfers[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferPending, stored.Status)
}
