// Package memory provides mutex-guarded in-memory implementations of the
// domain store interfaces. They back the "memory" storage backend and serve
// as test doubles for the postgres stores.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// MarketStore is an in-memory implementation of domain.MarketStore.
type MarketStore struct {
	mu   sync.RWMutex
	data map[domain.MarketRef]domain.MarketDescriptor
}

// NewMarketStore creates an empty market store.
func NewMarketStore() *MarketStore {
	return &MarketStore{data: make(map[domain.MarketRef]domain.MarketDescriptor)}
}

// UpsertBatch inserts or replaces every market.
func (s *MarketStore) UpsertBatch(_ context.Context, markets []domain.MarketDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range markets {
		m.Outcomes = append([]domain.Outcome(nil), m.Outcomes...)
		s.data[m.Ref()] = m
	}
	return nil
}

// Get returns one market or domain.ErrNotFound.
func (s *MarketStore) Get(_ context.Context, ref domain.MarketRef) (domain.MarketDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.data[ref]
	if !ok {
		return domain.MarketDescriptor{}, domain.ErrNotFound
	}
	return m, nil
}

// SetStatus updates a market's status.
func (s *MarketStore) SetStatus(_ context.Context, ref domain.MarketRef, status domain.MarketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data[ref]
	if !ok {
		return domain.ErrNotFound
	}
	m.Status = status
	s.data[ref] = m
	return nil
}

// ListActive returns the venue's active markets ordered by id.
func (s *MarketStore) ListActive(_ context.Context, venue string) ([]domain.MarketDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.MarketDescriptor
	for _, m := range s.data {
		if m.Venue == venue && m.Status == domain.MarketStatusActive {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Count returns the number of stored markets for venue.
func (s *MarketStore) Count(_ context.Context, venue string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for ref := range s.data {
		if ref.Venue == venue {
			n++
		}
	}
	return n, nil
}
