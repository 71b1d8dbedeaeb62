package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// HealthStore persists the last known per-venue ingestion status.
type HealthStore struct {
	pool *pgxpool.Pool
}

// NewHealthStore creates a new HealthStore backed by the given connection pool.
func NewHealthStore(pool *pgxpool.Pool) *HealthStore {
	return &HealthStore{pool: pool}
}

// Upsert writes h, replacing any previous row for the venue.
func (s *HealthStore) Upsert(ctx context.Context, h domain.VenueHealth) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO venue_health (venue, healthy, running, last_success, market_count, order_book_count, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (venue) DO UPDATE SET
			healthy          = EXCLUDED.healthy,
			running          = EXCLUDED.running,
			last_success     = EXCLUDED.last_success,
			market_count     = EXCLUDED.market_count,
			order_book_count = EXCLUDED.order_book_count,
			last_error       = EXCLUDED.last_error,
			updated_at       = EXCLUDED.updated_at`,
		h.Venue, h.Healthy, h.Running, h.LastSuccess, h.MarketCount, h.OrderBookCount, h.LastError, h.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert venue health %s: %w", h.Venue, err)
	}
	return nil
}

// List returns every venue row ordered by name.
func (s *HealthStore) List(ctx context.Context) ([]domain.VenueHealth, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT venue, healthy, running, last_success, market_count, order_book_count, last_error, updated_at
		FROM venue_health ORDER BY venue`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list venue health: %w", err)
	}
	defer rows.Close()

	var out []domain.VenueHealth
	for rows.Next() {
		var h domain.VenueHealth
		if err := rows.Scan(&h.Venue, &h.Healthy, &h.Running, &h.LastSuccess,
			&h.MarketCount, &h.OrderBookCount, &h.LastError, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan venue health: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: venue health rows: %w", err)
	}
	return out, nil
}
