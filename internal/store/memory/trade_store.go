package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

type tradeKey struct {
	venue   string
	tradeID string
}

// TradeStore is an in-memory implementation of domain.TradeStore.
type TradeStore struct {
	mu   sync.RWMutex
	data map[tradeKey]domain.Trade
}

// NewTradeStore creates an empty trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{data: make(map[tradeKey]domain.Trade)}
}

// InsertBatch stores trades, ignoring ids already present. It returns the
// number of new rows.
func (s *TradeStore) InsertBatch(_ context.Context, trades []domain.Trade) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range trades {
		k := tradeKey{t.Venue, t.TradeID}
		if _, exists := s.data[k]; exists {
			continue
		}
		s.data[k] = t
		n++
	}
	return n, nil
}

// ListByMarket returns the market's trades, newest first.
func (s *TradeStore) ListByMarket(_ context.Context, ref domain.MarketRef, limit int) ([]domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Trade
	for _, t := range s.data {
		if t.Venue == ref.Venue && t.MarketID == ref.MarketID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExecutedAt.Equal(out[j].ExecutedAt) {
			return out[i].ExecutedAt.After(out[j].ExecutedAt)
		}
		return out[i].TradeID < out[j].TradeID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
