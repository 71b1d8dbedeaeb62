package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// BookStore is an in-memory implementation of domain.OrderBookStore. Each
// replacement swaps the market's whole row set under the lock.
type BookStore struct {
	mu   sync.RWMutex
	data map[domain.MarketRef][]domain.BookLevel
}

// NewBookStore creates an empty book store.
func NewBookStore() *BookStore {
	return &BookStore{data: make(map[domain.MarketRef][]domain.BookLevel)}
}

// ReplaceBook replaces both sides of the market's book.
func (s *BookStore) ReplaceBook(_ context.Context, venue, marketID string, book domain.OrderBook, capturedAt time.Time) error {
	rows := domain.LevelsFromBook(venue, marketID, book, capturedAt)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[domain.MarketRef{Venue: venue, MarketID: marketID}] = rows
	return nil
}

// Levels returns the stored rows, bids then asks, each by rank.
func (s *BookStore) Levels(_ context.Context, venue, marketID string) ([]domain.BookLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, ok := s.data[domain.MarketRef{Venue: venue, MarketID: marketID}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]domain.BookLevel(nil), rows...), nil
}

// Snapshot derives the best bid and ask for the market.
func (s *BookStore) Snapshot(ctx context.Context, venue, marketID string, staleAfter time.Duration, now time.Time) (domain.BookSnapshot, error) {
	rows, err := s.Levels(ctx, venue, marketID)
	if err != nil {
		return domain.BookSnapshot{}, err
	}
	return domain.SnapshotFromLevels(venue, marketID, rows, staleAfter, now), nil
}

// CountBooks returns the number of markets with a stored book for venue.
func (s *BookStore) CountBooks(_ context.Context, venue string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for ref := range s.data {
		if ref.Venue == venue {
			n++
		}
	}
	return n, nil
}
