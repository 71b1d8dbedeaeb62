package domain

import (
	"context"
	"time"
)

// MarketStore persists discovered market descriptors.
type MarketStore interface {
	UpsertBatch(ctx context.Context, markets []MarketDescriptor) error
	Get(ctx context.Context, ref MarketRef) (MarketDescriptor, error)
	SetStatus(ctx context.Context, ref MarketRef, status MarketStatus) error
	ListActive(ctx context.Context, venue string) ([]MarketDescriptor, error)
	Count(ctx context.Context, venue string) (int64, error)
}

// OrderBookStore holds the current top-of-book levels per (venue, market).
// ReplaceBook swaps both sides in one atomic step.
type OrderBookStore interface {
	ReplaceBook(ctx context.Context, venue, marketID string, book OrderBook, capturedAt time.Time) error
	Levels(ctx context.Context, venue, marketID string) ([]BookLevel, error)
	Snapshot(ctx context.Context, venue, marketID string, staleAfter time.Duration, now time.Time) (BookSnapshot, error)
	CountBooks(ctx context.Context, venue string) (int, error)
}

// TradeStore persists venue trades. Duplicate trade ids are ignored.
type TradeStore interface {
	InsertBatch(ctx context.Context, trades []Trade) (int64, error)
	ListByMarket(ctx context.Context, ref MarketRef, limit int) ([]Trade, error)
}

// PairStore reads matched pairs produced by the equivalence subsystem.
type PairStore interface {
	ListEligible(ctx context.Context) ([]MatchedPair, error)
	Get(ctx context.Context, id string) (MatchedPair, error)
	Stats(ctx context.Context) (PairStats, error)
}

// PairStats counts matched pairs.
type PairStats struct {
	Total  int64 `json:"total"`
	Active int64 `json:"active"`
}

// SignalStore is the append-only signal log.
type SignalStore interface {
	Append(ctx context.Context, s Signal) error
	MarkExpired(ctx context.Context, before time.Time) (int64, error)
	QueryActive(ctx context.Context, q ActiveQuery) ([]Signal, error)
	Get(ctx context.Context, id string) (Signal, error)
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]Signal, error)
	Stats(ctx context.Context, now time.Time) (SignalStats, error)
}

// VenueHealth is the persisted view of a venue's ingestion loop.
type VenueHealth struct {
	Venue          string     `json:"venue"`
	Healthy        bool       `json:"healthy"`
	Running        bool       `json:"running"`
	LastSuccess    *time.Time `json:"last_success_time"`
	MarketCount    int64      `json:"market_count"`
	OrderBookCount int        `json:"order_book_count"`
	LastError      string     `json:"last_error,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// HealthStore mirrors venue health for other replicas and dashboards.
type HealthStore interface {
	Upsert(ctx context.Context, h VenueHealth) error
	List(ctx context.Context) ([]VenueHealth, error)
}
