package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// PairStore reads the matched pairs written by the equivalence subsystem.
type PairStore struct {
	pool *pgxpool.Pool
}

// NewPairStore creates a new PairStore backed by the given connection pool.
func NewPairStore(pool *pgxpool.Pool) *PairStore {
	return &PairStore{pool: pool}
}

const pairColumns = `id, market_a_venue, market_a_id, market_b_venue, market_b_id,
	equivalence_score, confidence, hard_ok, status, conflict_list, created_at`

func scanPair(row pgx.Row) (domain.MatchedPair, error) {
	var p domain.MatchedPair
	var status string
	err := row.Scan(&p.ID, &p.MarketA.Venue, &p.MarketA.MarketID, &p.MarketB.Venue, &p.MarketB.MarketID,
		&p.EquivalenceScore, &p.Confidence, &p.HardOK, &status, &p.ConflictList, &p.CreatedAt)
	if err != nil {
		return domain.MatchedPair{}, err
	}
	p.Status = domain.PairStatus(status)
	return p, nil
}

// ListEligible returns active, hard-constraint-passing pairs at or above the
// minimum equivalence score, oldest first.
func (s *PairStore) ListEligible(ctx context.Context) ([]domain.MatchedPair, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pairColumns+`
		FROM pairs
		WHERE status = 'active' AND hard_ok AND equivalence_score >= $1
		ORDER BY created_at, id`, domain.MinEquivalenceScore)
	if err != nil {
		return nil, fmt.Errorf("postgres: list eligible pairs: %w", err)
	}
	defer rows.Close()

	var out []domain.MatchedPair
	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pair: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list eligible pairs rows: %w", err)
	}
	return out, nil
}

// Get returns one pair.
func (s *PairStore) Get(ctx context.Context, id string) (domain.MatchedPair, error) {
	p, err := scanPair(s.pool.QueryRow(ctx, `SELECT `+pairColumns+` FROM pairs WHERE id = $1`, id))
	if err != nil {
		return domain.MatchedPair{}, fmt.Errorf("postgres: get pair %s: %w", id, notFound(err))
	}
	return p, nil
}

// Stats counts all and active pairs.
func (s *PairStore) Stats(ctx context.Context) (domain.PairStats, error) {
	var st domain.PairStats
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'active') FROM pairs`,
	).Scan(&st.Total, &st.Active)
	if err != nil {
		return domain.PairStats{}, fmt.Errorf("postgres: pair stats: %w", err)
	}
	return st, nil
}

// Upsert writes a pair. The service never calls it; it exists for seeding
// and for tests.
func (s *PairStore) Upsert(ctx context.Context, p domain.MatchedPair) error {
	conflicts := p.ConflictList
	if conflicts == nil {
		conflicts = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pairs (`+pairColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			equivalence_score = EXCLUDED.equivalence_score,
			confidence        = EXCLUDED.confidence,
			hard_ok           = EXCLUDED.hard_ok,
			status            = EXCLUDED.status,
			conflict_list     = EXCLUDED.conflict_list`,
		p.ID, p.MarketA.Venue, p.MarketA.MarketID, p.MarketB.Venue, p.MarketB.MarketID,
		p.EquivalenceScore, p.Confidence, p.HardOK, string(p.Status), conflicts, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert pair %s: %w", p.ID, err)
	}
	return nil
}
