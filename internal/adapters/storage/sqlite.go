package storage

// sqlite.go: market arena and settlement queue on SQLite.
//
// Layout:
//   - `markets`: one row per market. The full aggregate (ledger included) lives in
//     `record` as JSON; id, title and stage are copied out for listing.
//     Ids are assigned as the row count at insertion and rows are never deleted.
//   - `transfers`: one row per transfer intent, inserted in the same transaction
//     as the market update that produced it. `seq` gives the queue order.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/lmsrmarket/internal/domain"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS markets (
    id         INTEGER PRIMARY KEY,
    title      TEXT NOT NULL,
    stage      TEXT NOT NULL,
    record     TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transfers (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    id         TEXT    NOT NULL UNIQUE,
    market_id  INTEGER NOT NULL REFERENCES markets(id),
    account    TEXT    NOT NULL,
    token      TEXT    NOT NULL,
    amount     TEXT    NOT NULL,
    reason     TEXT    NOT NULL,
    status     TEXT    NOT NULL,
    error      TEXT    NOT NULL DEFAULT '',
    created_at TEXT    NOT NULL,
    settled_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_transfers_status ON transfers(status, seq);
CREATE INDEX IF NOT EXISTS idx_transfers_market ON transfers(market_id, seq);
`

const transferColumns = `id, market_id, account, token, amount, reason, status, error, created_at, settled_at`

// SQLiteStorage implements ports.Storage using SQLite (pure Go, no CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at path and applies the schema.
// ":memory:" gives a throwaway database.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer; this also serializes id assignment
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// CreateMarket inserts m with id = number of markets.
func (s *SQLiteStorage) CreateMarket(ctx context.Context, m domain.Market) (domain.MarketID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("storage.CreateMarket: begin tx: %w", err)
	}
	defer tx.Rollback()

	var count uint64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM markets`).Scan(&count); err != nil {
		return 0, fmt.Errorf("storage.CreateMarket: count: %w", err)
	}
	m.ID = domain.MarketID(count)

	record, err := json.Marshal(m)
	if err != nil {
		return 0, fmt.Errorf("storage.CreateMarket: encode: %w", err)
	}
	now := formatTime(time.Now())
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO markets (id, title, stage, record, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		int64(m.ID), m.Title, m.Stage.String(), string(record), formatTime(m.CreatedAt), now,
	); err != nil {
		return 0, fmt.Errorf("storage.CreateMarket: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("storage.CreateMarket: commit: %w", err)
	}
	return m.ID, nil
}

// GetMarket loads a market by id.
func (s *SQLiteStorage) GetMarket(ctx context.Context, id domain.MarketID) (domain.Market, error) {
	var record string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM markets WHERE id = ?`, int64(id)).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Market{}, fmt.Errorf("storage.GetMarket: market %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("storage.GetMarket: query %d: %w", id, err)
	}
	m, err := decodeMarket([]byte(record))
	if err != nil {
		return domain.Market{}, fmt.Errorf("storage.GetMarket: %d: %w", id, err)
	}
	return m, nil
}

// CountMarkets returns the arena length.
func (s *SQLiteStorage) CountMarkets(ctx context.Context) (uint64, error) {
	var count uint64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM markets`).Scan(&count); err != nil {
		return 0, fmt.Errorf("storage.CountMarkets: %w", err)
	}
	return count, nil
}

// ListMarkets returns markets with id >= offset in id order.
func (s *SQLiteStorage) ListMarkets(ctx context.Context, offset domain.MarketID, limit int) ([]domain.Market, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM markets WHERE id >= ? ORDER BY id LIMIT ?`, int64(offset), limit)
	if err != nil {
		return nil, fmt.Errorf("storage.ListMarkets: query: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("storage.ListMarkets: scan row: %w", err)
		}
		m, err := decodeMarket([]byte(record))
		if err != nil {
			return nil, fmt.Errorf("storage.ListMarkets: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// Commit writes the market back and queues its transfers in one transaction.
func (s *SQLiteStorage) Commit(ctx context.Context, m domain.Market, transfers []domain.Transfer) error {
	record, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("storage.Commit: encode market %d: %w", m.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.Commit: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE markets SET title = ?, stage = ?, record = ?, updated_at = ? WHERE id = ?`,
		m.Title, m.Stage.String(), string(record), formatTime(time.Now()), int64(m.ID),
	)
	if err != nil {
		return fmt.Errorf("storage.Commit: update market %d: %w", m.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("storage.Commit: rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("storage.Commit: market %d: %w", m.ID, domain.ErrNotFound)
	}

	if len(transfers) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO transfers (`+transferColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("storage.Commit: prepare: %w", err)
		}
		defer stmt.Close()

		for _, t := range transfers {
			if _, err := stmt.ExecContext(ctx,
				t.ID, int64(t.MarketID), string(t.Account), t.Token, t.Amount.String(),
				string(t.Reason), string(t.Status), t.Error, formatTime(t.CreatedAt), nullTime(t.SettledAt),
			); err != nil {
				return fmt.Errorf("storage.Commit: insert transfer %s: %w", t.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.Commit: commit: %w", err)
	}
	return nil
}

// PendingTransfers returns the oldest pending transfers first.
func (s *SQLiteStorage) PendingTransfers(ctx context.Context, limit int) ([]domain.Transfer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE status = ? ORDER BY seq LIMIT ?`,
		string(domain.TransferPending), limit)
	if err != nil {
		return nil, fmt.Errorf("storage.PendingTransfers: query: %w", err)
	}
	defer rows.Close()
	return scanTransfers(rows)
}

// UpdateTransfer records a settlement result.
func (s *SQLiteStorage) UpdateTransfer(ctx context.Context, t domain.Transfer) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transfers SET status = ?, error = ?, settled_at = ? WHERE id = ?`,
		string(t.Status), t.Error, nullTime(t.SettledAt), t.ID)
	if err != nil {
		return fmt.Errorf("storage.UpdateTransfer: %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.UpdateTransfer: transfer %s: %w", t.ID, domain.ErrNotFound)
	}
	return nil
}

// GetTransfer loads one transfer by id.
func (s *SQLiteStorage) GetTransfer(ctx context.Context, id string) (domain.Transfer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = ?`, id)
	if err != nil {
		return domain.Transfer{}, fmt.Errorf("storage.GetTransfer: query: %w", err)
	}
	defer rows.Close()

	transfers, err := scanTransfers(rows)
	if err != nil {
		return domain.Transfer{}, fmt.Errorf("storage.GetTransfer: %w", err)
	}
	if len(transfers) == 0 {
		return domain.Transfer{}, fmt.Errorf("storage.GetTransfer: transfer %s: %w", id, domain.ErrNotFound)
	}
	return transfers[0], nil
}

// ListTransfers returns a market's transfers in queue order.
func (s *SQLiteStorage) ListTransfers(ctx context.Context, marketID domain.MarketID) ([]domain.Transfer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE market_id = ? ORDER BY seq`, int64(marketID))
	if err != nil {
		return nil, fmt.Errorf("storage.ListTransfers: query: %w", err)
	}
	defer rows.Close()
	return scanTransfers(rows)
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers ---

func scanTransfers(rows *sql.Rows) ([]domain.Transfer, error) {
	var transfers []domain.Transfer
	for rows.Next() {
		var (
			t                         domain.Transfer
			marketID                  int64
			account, amount           string
			reason, status, createdAt string
			settledAt                 sql.NullString
		)
		if err := rows.Scan(&t.ID, &marketID, &account, &t.Token, &amount,
			&reason, &status, &t.Error, &createdAt, &settledAt); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("transfer %s amount %q: %w", t.ID, amount, err)
		}
		t.MarketID = domain.MarketID(marketID)
		t.Account = domain.AccountID(account)
		t.Amount = d
		t.Reason = domain.TransferReason(reason)
		t.Status = domain.TransferStatus(status)
		if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("transfer %s created_at %q: %w", t.ID, createdAt, err)
		}
		if settledAt.Valid {
			at, err := time.Parse(time.RFC3339Nano, settledAt.String)
			if err != nil {
				return nil, fmt.Errorf("transfer %s settled_at %q: %w", t.ID, settledAt.String, err)
			}
			t.SettledAt = &at
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

func decodeMarket(record []byte) (domain.Market, error) {
	var m domain.Market
	if err := json.Unmarshal(record, &m); err != nil {
		return domain.Market{}, fmt.Errorf("decode market: %w", err)
	}
	if m.Ledger == nil {
		m.Ledger = domain.NewLedger(len(m.Outcomes))
	}
	if m.Ledger.Rows == nil {
		m.Ledger.Rows = make(map[domain.AccountID][]int64)
	}
	return m, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
