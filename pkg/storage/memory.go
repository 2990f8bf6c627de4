package storage

import (
	"errors"
	"sort"
	"sync"
)

// MemoryStore is the in-process twin of PebbleStore.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]string
	fills  map[string]FillRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]string),
		fills:  make(map[string]FillRecord),
	}
}

func (m *MemoryStore) RecordOrder(exchangeOrderID, clientOrderID string) error {
	if exchangeOrderID == "" {
		return errors.New("empty exchange order id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[exchangeOrderID] = clientOrderID
	return nil
}

func (m *MemoryStore) ClientOrderID(exchangeOrderID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.orders[exchangeOrderID]
	return id, ok, nil
}

func (m *MemoryStore) MarkTrade(tradeID, exchangeOrderID string, timestamp float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.fills[tradeID]; ok {
		return false, nil
	}
	m.fills[tradeID] = FillRecord{TradeID: tradeID, ExchangeOrderID: exchangeOrderID, Timestamp: timestamp}
	return true, nil
}

func (m *MemoryStore) Fills(exchangeOrderID string) ([]FillRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []FillRecord
	for _, f := range m.fills {
		if f.ExchangeOrderID == exchangeOrderID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TradeID < out[j].TradeID })
	return out, nil
}

func (m *MemoryStore) PruneFills(before float64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pruned := 0
	for id, f := range m.fills {
		if f.Timestamp < before {
			delete(m.fills, id)
			pruned++
		}
	}
	return pruned, nil
}
