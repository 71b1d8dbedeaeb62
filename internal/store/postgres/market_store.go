package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketColumns = `venue, market_id, title, rules_text, resolution_date, status, outcomes, updated_at`

// UpsertBatch inserts or updates markets in a single batch.
func (s *MarketStore) UpsertBatch(ctx context.Context, markets []domain.MarketDescriptor) error {
	if len(markets) == 0 {
		return nil
	}

	const query = `
		INSERT INTO markets (` + marketColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (venue, market_id) DO UPDATE SET
			title           = EXCLUDED.title,
			rules_text      = EXCLUDED.rules_text,
			resolution_date = EXCLUDED.resolution_date,
			status          = EXCLUDED.status,
			outcomes        = EXCLUDED.outcomes,
			updated_at      = EXCLUDED.updated_at`

	batch := &pgx.Batch{}
	for _, m := range markets {
		outcomes := m.Outcomes
		if outcomes == nil {
			outcomes = []domain.Outcome{}
		}
		updated := m.UpdatedAt
		if updated.IsZero() {
			updated = time.Now().UTC()
		}
		batch.Queue(query,
			m.Venue, m.ID, m.Title, m.RulesText, m.ResolutionDate,
			string(m.Status), outcomes, updated,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range markets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert market batch item %d: %w", i, err)
		}
	}
	return nil
}

func scanMarket(row pgx.Row) (domain.MarketDescriptor, error) {
	var m domain.MarketDescriptor
	var status string
	err := row.Scan(&m.Venue, &m.ID, &m.Title, &m.RulesText, &m.ResolutionDate, &status, &m.Outcomes, &m.UpdatedAt)
	if err != nil {
		return domain.MarketDescriptor{}, err
	}
	m.Status = domain.MarketStatus(status)
	return m, nil
}

// Get returns one market.
func (s *MarketStore) Get(ctx context.Context, ref domain.MarketRef) (domain.MarketDescriptor, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE venue = $1 AND market_id = $2`,
		ref.Venue, ref.MarketID)
	m, err := scanMarket(row)
	if err != nil {
		return domain.MarketDescriptor{}, fmt.Errorf("postgres: get market %s: %w", ref, notFound(err))
	}
	return m, nil
}

// SetStatus updates one market's status.
func (s *MarketStore) SetStatus(ctx context.Context, ref domain.MarketRef, status domain.MarketStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = $3, updated_at = NOW() WHERE venue = $1 AND market_id = $2`,
		ref.Venue, ref.MarketID, string(status))
	if err != nil {
		return fmt.Errorf("postgres: set market status %s: %w", ref, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: set market status %s: %w", ref, domain.ErrNotFound)
	}
	return nil
}

// ListActive returns the venue's active markets ordered by id.
func (s *MarketStore) ListActive(ctx context.Context, venue string) ([]domain.MarketDescriptor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE venue = $1 AND status = 'active' ORDER BY market_id`,
		venue)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active markets: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketDescriptor
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active markets rows: %w", err)
	}
	return out, nil
}

// Count returns the number of stored markets for venue.
func (s *MarketStore) Count(ctx context.Context, venue string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets WHERE venue = $1`, venue).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}
