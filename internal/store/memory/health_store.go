package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// HealthStore is an in-memory implementation of domain.HealthStore.
type HealthStore struct {
	mu   sync.RWMutex
	data map[string]domain.VenueHealth
}

// NewHealthStore creates an empty health store.
func NewHealthStore() *HealthStore {
	return &HealthStore{data: make(map[string]domain.VenueHealth)}
}

func (s *HealthStore) Upsert(_ context.Context, h domain.VenueHealth) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[h.Venue] = h
	return nil
}

func (s *HealthStore) List(_ context.Context) ([]domain.VenueHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.VenueHealth, 0, len(s.data))
	for _, h := range s.data {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Venue < out[j].Venue })
	return out, nil
}
