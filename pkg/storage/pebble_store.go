package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
)

// FillRecord is one reported trade.
type FillRecord struct {
	TradeID         string  `json:"trade_id"`
	ExchangeOrderID string  `json:"exchange_order_id"`
	Timestamp       float64 `json:"timestamp"`
}

// PebbleStore persists the exchange→client order id map and the set of
// reported trade ids, so fills are never reported twice across restarts.
type PebbleStore struct {
	db *pebble.DB
	// serializes MarkTrade's read-then-write
	mu sync.Mutex
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// RecordOrder remembers which client order an exchange order id belongs to.
func (s *PebbleStore) RecordOrder(exchangeOrderID, clientOrderID string) error {
	if exchangeOrderID == "" {
		return errors.New("empty exchange order id")
	}
	if err := s.db.Set(orderKey(exchangeOrderID), []byte(clientOrderID), pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

func (s *PebbleStore) ClientOrderID(exchangeOrderID string) (string, bool, error) {
	val, closer, err := s.db.Get(orderKey(exchangeOrderID))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get order: %w", err)
	}
	defer closer.Close()
	return string(val), true, nil
}

// MarkTrade records tradeID and reports whether it had not been seen before.
func (s *PebbleStore) MarkTrade(tradeID, exchangeOrderID string, timestamp float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, closer, err := s.db.Get(fillKey(tradeID))
	if err == nil {
		closer.Close()
		return false, nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return false, fmt.Errorf("failed to get fill: %w", err)
	}

	data, err := json.Marshal(FillRecord{TradeID: tradeID, ExchangeOrderID: exchangeOrderID, Timestamp: timestamp})
	if err != nil {
		return false, fmt.Errorf("failed to marshal fill: %w", err)
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(fillKey(tradeID), data, nil); err != nil {
		return false, err
	}
	if exchangeOrderID != "" {
		if err := b.Set(orderFillKey(exchangeOrderID, tradeID), nil, nil); err != nil {
			return false, err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return false, fmt.Errorf("failed to save fill: %w", err)
	}
	return true, nil
}

// Fills lists the recorded fills of one exchange order.
func (s *PebbleStore) Fills(exchangeOrderID string) ([]FillRecord, error) {
	prefix := orderFillPrefix(exchangeOrderID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var fills []FillRecord
	for iter.First(); iter.Valid(); iter.Next() {
		tradeID := strings.TrimPrefix(string(iter.Key()), string(prefix))
		rec, ok, err := s.fill(tradeID)
		if err != nil {
			return nil, err
		}
		if ok {
			fills = append(fills, rec)
		}
	}
	return fills, nil
}

func (s *PebbleStore) fill(tradeID string) (FillRecord, bool, error) {
	val, closer, err := s.db.Get(fillKey(tradeID))
	if errors.Is(err, pebble.ErrNotFound) {
		return FillRecord{}, false, nil
	}
	if err != nil {
		return FillRecord{}, false, fmt.Errorf("failed to get fill: %w", err)
	}
	defer closer.Close()
	var rec FillRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return FillRecord{}, false, fmt.Errorf("failed to unmarshal fill: %w", err)
	}
	return rec, true, nil
}

// PruneFills drops fill records older than before (seconds). Trades that old
// are outside every poll window and cannot be reported again.
func (s *PebbleStore) PruneFills(before float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := []byte(prefixFill)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return 0, err
	}

	b := s.db.NewBatch()
	defer b.Close()
	pruned := 0
	for iter.First(); iter.Valid(); iter.Next() {
		var rec FillRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue // Skip invalid entries
		}
		if rec.Timestamp >= before {
			continue
		}
		if err := b.Delete(fillKey(rec.TradeID), nil); err != nil {
			iter.Close()
			return 0, err
		}
		if rec.ExchangeOrderID != "" {
			if err := b.Delete(orderFillKey(rec.ExchangeOrderID, rec.TradeID), nil); err != nil {
				iter.Close()
				return 0, err
			}
		}
		pruned++
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to prune fills: %w", err)
	}
	return pruned, nil
}
