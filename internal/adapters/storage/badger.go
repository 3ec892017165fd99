package storage

// badger.go: the same arena and queue on an embedded Badger KV store.
//
// Keys:
//   market/<id %020d>                      -> market JSON
//   transfer/<uuid>                        -> transfer JSON
//   queue/<seq %020d>                      -> transfer id, present while PENDING
//   bymarket/<market %020d>/<seq %020d>    -> transfer id
//   meta/markets                           -> market count, big-endian uint64
//
// Zero padding keeps lexicographic key order equal to numeric order.

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/alejandrodnm/lmsrmarket/internal/domain"
)

var (
	marketCountKey = []byte("meta/markets")
	transferSeqKey = []byte("meta/transfer-seq")
)

// badgerTransfer is the stored form of a transfer; Seq links it to its index keys.
type badgerTransfer struct {
	domain.Transfer
	Seq uint64 `json:"seq"`
}

// BadgerStorage implements ports.Storage on Badger.
type BadgerStorage struct {
	db  *badger.DB
	seq *badger.Sequence
	mu  sync.Mutex // serializes market creation (id = count)
}

// NewBadgerStorage opens (or creates) a Badger directory. An empty path opens an
// in-memory store.
func NewBadgerStorage(path string) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage.NewBadgerStorage: open %q: %w", path, err)
	}
	seq, err := db.GetSequence(transferSeqKey, 100)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewBadgerStorage: sequence: %w", err)
	}
	return &BadgerStorage{db: db, seq: seq}, nil
}

func marketKey(id domain.MarketID) []byte {
	return []byte(fmt.Sprintf("market/%020d", uint64(id)))
}

func transferKey(id string) []byte {
	return []byte("transfer/" + id)
}

func queueKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("queue/%020d", seq))
}

func byMarketKey(marketID domain.MarketID, seq uint64) []byte {
	return []byte(fmt.Sprintf("bymarket/%020d/%020d", uint64(marketID), seq))
}

// CreateMarket stores m under the next id.
func (s *BadgerStorage) CreateMarket(ctx context.Context, m domain.Market) (domain.MarketID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		count, err := readCount(txn)
		if err != nil {
			return err
		}
		m.ID = domain.MarketID(count)
		record, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode: %w", err)
		}
		if err := txn.Set(marketKey(m.ID), record); err != nil {
			return err
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, count+1)
		return txn.Set(marketCountKey, buf)
	})
	if err != nil {
		return 0, fmt.Errorf("storage.CreateMarket: %w", err)
	}
	return m.ID, nil
}

// GetMarket loads a market by id.
func (s *BadgerStorage) GetMarket(ctx context.Context, id domain.MarketID) (domain.Market, error) {
	var m domain.Market
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(marketKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("market %d: %w", id, domain.ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			m, err = decodeMarket(val)
			return err
		})
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("storage.GetMarket: %w", err)
	}
	return m, nil
}

// CountMarkets returns the arena length.
func (s *BadgerStorage) CountMarkets(ctx context.Context) (uint64, error) {
	var count uint64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		count, err = readCount(txn)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("storage.CountMarkets: %w", err)
	}
	return count, nil
}

// ListMarkets returns markets with id >= offset in id order.
func (s *BadgerStorage) ListMarkets(ctx context.Context, offset domain.MarketID, limit int) ([]domain.Market, error) {
	var markets []domain.Market
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte("market/")
		for it.Seek(marketKey(offset)); it.ValidForPrefix(prefix) && len(markets) < limit; it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			m, err := decodeMarket(val)
			if err != nil {
				return err
			}
			markets = append(markets, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage.ListMarkets: %w", err)
	}
	return markets, nil
}

// Commit writes the market and its transfers in one Badger transaction.
func (s *BadgerStorage) Commit(ctx context.Context, m domain.Market, transfers []domain.Transfer) error {
	record, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("storage.Commit: encode market %d: %w", m.ID, err)
	}

	stored := make([]badgerTransfer, len(transfers))
	for i, t := range transfers {
		seq, err := s.seq.Next()
		if err != nil {
			return fmt.Errorf("storage.Commit: sequence: %w", err)
		}
		stored[i] = badgerTransfer{Transfer: t, Seq: seq}
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(marketKey(m.ID)); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("market %d: %w", m.ID, domain.ErrNotFound)
		} else if err != nil {
			return err
		}
		if err := txn.Set(marketKey(m.ID), record); err != nil {
			return err
		}
		for _, t := range stored {
			if err := s.putTransfer(txn, t); err != nil {
				return err
			}
			if err := txn.Set(byMarketKey(t.MarketID, t.Seq), []byte(t.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage.Commit: %w", err)
	}
	return nil
}

// PendingTransfers walks the queue index in sequence order.
func (s *BadgerStorage) PendingTransfers(ctx context.Context, limit int) ([]domain.Transfer, error) {
	var transfers []domain.Transfer
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := scanIDs(txn, []byte("queue/"), limit)
		if err != nil {
			return err
		}
		for _, id := range ids {
			t, err := getTransfer(txn, id)
			if err != nil {
				return err
			}
			transfers = append(transfers, t.Transfer)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage.PendingTransfers: %w", err)
	}
	return transfers, nil
}

// UpdateTransfer stores the settlement result and drops the transfer from the
// queue once it is no longer pending.
func (s *BadgerStorage) UpdateTransfer(ctx context.Context, t domain.Transfer) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		cur, err := getTransfer(txn, t.ID)
		if err != nil {
			return err
		}
		cur.Status = t.Status
		cur.Error = t.Error
		cur.SettledAt = t.SettledAt
		return s.putTransfer(txn, cur)
	})
	if err != nil {
		return fmt.Errorf("storage.UpdateTransfer: %w", err)
	}
	return nil
}

// GetTransfer loads one transfer by id.
func (s *BadgerStorage) GetTransfer(ctx context.Context, id string) (domain.Transfer, error) {
	var t badgerTransfer
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		t, err = getTransfer(txn, id)
		return err
	})
	if err != nil {
		return domain.Transfer{}, fmt.Errorf("storage.GetTransfer: %w", err)
	}
	return t.Transfer, nil
}

// ListTransfers returns a market's transfers in queue order.
func (s *BadgerStorage) ListTransfers(ctx context.Context, marketID domain.MarketID) ([]domain.Transfer, error) {
	var transfers []domain.Transfer
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("bymarket/%020d/", uint64(marketID)))
		ids, err := scanIDs(txn, prefix, 0)
		if err != nil {
			return err
		}
		for _, id := range ids {
			t, err := getTransfer(txn, id)
			if err != nil {
				return err
			}
			transfers = append(transfers, t.Transfer)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage.ListTransfers: %w", err)
	}
	return transfers, nil
}

// Close releases the sequence lease and closes the store.
func (s *BadgerStorage) Close() error {
	if err := s.seq.Release(); err != nil {
		s.db.Close()
		return fmt.Errorf("storage.Close: release sequence: %w", err)
	}
	return s.db.Close()
}

// --- helpers ---

func (s *BadgerStorage) putTransfer(txn *badger.Txn, t badgerTransfer) error {
	val, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode transfer %s: %w", t.ID, err)
	}
	if err := txn.Set(transferKey(t.ID), val); err != nil {
		return err
	}
	if t.Status == domain.TransferPending {
		return txn.Set(queueKey(t.Seq), []byte(t.ID))
	}
	return txn.Delete(queueKey(t.Seq))
}

func getTransfer(txn *badger.Txn, id string) (badgerTransfer, error) {
	var t badgerTransfer
	item, err := txn.Get(transferKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return t, fmt.Errorf("transfer %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return t, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &t)
	})
	if err != nil {
		return t, fmt.Errorf("decode transfer %s: %w", id, err)
	}
	return t, nil
}

// scanIDs returns the values under prefix in key order; limit <= 0 means all.
func scanIDs(txn *badger.Txn, prefix []byte, limit int) ([]string, error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var ids []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if limit > 0 && len(ids) >= limit {
			break
		}
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		ids = append(ids, string(val))
	}
	return ids, nil
}

func readCount(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get(marketCountKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var count uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("market count: %d bytes", len(val))
		}
		count = binary.BigEndian.Uint64(val)
		return nil
	})
	return count, err
}
