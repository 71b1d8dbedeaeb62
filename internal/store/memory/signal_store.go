package memory

import (
	"context"
	"errors"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// SignalStore is an in-memory implementation of domain.SignalStore.
type SignalStore struct {
	mu    sync.RWMutex
	data  map[string]domain.Signal
	order []string
}

// NewSignalStore creates an empty signal store.
func NewSignalStore() *SignalStore {
	return &SignalStore{data: make(map[string]domain.Signal)}
}

// Append stores a new signal. Ids must be unique.
func (s *SignalStore) Append(_ context.Context, sig domain.Signal) error {
	if sig.ID == "" {
		return errors.New("memory: append signal: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[sig.ID]; exists {
		return errors.New("memory: append signal: duplicate id " + sig.ID)
	}
	sig.Metadata = maps.Clone(sig.Metadata)
	s.data[sig.ID] = sig
	s.order = append(s.order, sig.ID)
	return nil
}

// MarkExpired moves active signals with expires_at before the cutoff to
// expired and returns how many changed.
func (s *SignalStore) MarkExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sig := range s.data {
		if sig.Status == domain.SignalStatusActive && sig.ExpiresAt.Before(before) {
			sig.Status = domain.SignalStatusExpired
			s.data[id] = sig
			n++
		}
	}
	return n, nil
}

// QueryActive returns live arbitrage signals ordered by strength, then
// recency.
func (s *SignalStore) QueryActive(_ context.Context, q domain.ActiveQuery) ([]domain.Signal, error) {
	now := q.Now
	if now.IsZero() {
		now = time.Now()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Signal
	for _, sig := range s.data {
		if sig.Live(now) && sig.Confidence >= q.MinConfidence {
			out = append(out, sig)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SignalStrength != out[j].SignalStrength {
			return out[i].SignalStrength > out[j].SignalStrength
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Get returns one signal or domain.ErrNotFound.
func (s *SignalStore) Get(_ context.Context, id string) (domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.data[id]
	if !ok {
		return domain.Signal{}, domain.ErrNotFound
	}
	return sig, nil
}

// ListCreatedBetween returns signals created in [from, to) in insertion
// order.
func (s *SignalStore) ListCreatedBetween(_ context.Context, from, to time.Time) ([]domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Signal
	for _, id := range s.order {
		sig := s.data[id]
		if !sig.CreatedAt.Before(from) && sig.CreatedAt.Before(to) {
			out = append(out, sig)
		}
	}
	return out, nil
}

// Stats summarizes the stored signals at now.
func (s *SignalStore) Stats(_ context.Context, now time.Time) (domain.SignalStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st domain.SignalStats
	var strength float64
	var arbs int64
	for _, sig := range s.data {
		st.Total++
		if sig.Status == domain.SignalStatusActive && sig.ExpiresAt.After(now) {
			st.Active++
		}
		if sig.Live(now) {
			st.ArbitrageOpportunities++
		}
		if sig.IsArbitrage {
			strength += sig.SignalStrength
			arbs++
		}
	}
	if arbs > 0 {
		st.AverageStrength = strength / float64(arbs)
	}
	return st, nil
}
