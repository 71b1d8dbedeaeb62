package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// PairStore is an in-memory implementation of domain.PairStore. Pairs are
// loaded with Put since they come from outside this service.
type PairStore struct {
	mu   sync.RWMutex
	data map[string]domain.MatchedPair
}

// NewPairStore creates a store holding pairs.
func NewPairStore(pairs ...domain.MatchedPair) *PairStore {
	s := &PairStore{data: make(map[string]domain.MatchedPair)}
	for _, p := range pairs {
		s.data[p.ID] = p
	}
	return s
}

// Put inserts or replaces a pair.
func (s *PairStore) Put(p domain.MatchedPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[p.ID] = p
}

// Upsert is Put with the store signature shared with postgres.
func (s *PairStore) Upsert(_ context.Context, p domain.MatchedPair) error {
	if p.ID == "" {
		return errors.New("memory: upsert pair: empty id")
	}
	s.Put(p)
	return nil
}

// ListEligible returns the eligible pairs ordered by creation time, then id.
func (s *PairStore) ListEligible(_ context.Context) ([]domain.MatchedPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.MatchedPair
	for _, p := range s.data {
		if p.Eligible() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Get returns one pair or domain.ErrNotFound.
func (s *PairStore) Get(_ context.Context, id string) (domain.MatchedPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.data[id]
	if !ok {
		return domain.MatchedPair{}, domain.ErrNotFound
	}
	return p, nil
}

// Stats counts all and active pairs.
func (s *PairStore) Stats(_ context.Context) (domain.PairStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := domain.PairStats{Total: int64(len(s.data))}
	for _, p := range s.data {
		if p.Status == domain.PairStatusActive {
			st.Active++
		}
	}
	return st, nil
}
