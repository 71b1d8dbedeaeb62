package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// SignalStore implements domain.SignalStore on the arbitrage_signals table.
// Rows are never deleted; expiry flips status.
type SignalStore struct {
	pool *pgxpool.Pool
}

// NewSignalStore creates a new SignalStore backed by the given connection pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

const signalColumns = `id, pair_id, market_a_venue, market_a_id, market_b_venue, market_b_id,
	strategy, direction_a, direction_b, total_cost, edge_buffer, is_arbitrage, executable_size,
	market_a_best_bid, market_a_best_ask, market_a_bid_size, market_a_ask_size,
	market_b_best_bid, market_b_best_ask, market_b_bid_size, market_b_ask_size,
	fees_a, fees_b, slippage_buffer, signal_strength, confidence, status,
	expires_at, created_at, metadata`

// Append inserts a new signal. Duplicate ids are rejected by the primary key.
func (s *SignalStore) Append(ctx context.Context, sig domain.Signal) error {
	if sig.ID == "" {
		return errors.New("postgres: append signal: empty id")
	}
	meta := sig.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	status := sig.Status
	if status == "" {
		status = domain.SignalStatusActive
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO arbitrage_signals (`+signalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)`,
		sig.ID, sig.PairID, sig.MarketA.Venue, sig.MarketA.MarketID, sig.MarketB.Venue, sig.MarketB.MarketID,
		string(sig.Strategy), string(sig.DirectionA), string(sig.DirectionB),
		sig.TotalCost, sig.EdgeBuffer, sig.IsArbitrage, sig.ExecutableSize,
		sig.QuoteA.BestBid, sig.QuoteA.BestAsk, sig.QuoteA.BidSize, sig.QuoteA.AskSize,
		sig.QuoteB.BestBid, sig.QuoteB.BestAsk, sig.QuoteB.BidSize, sig.QuoteB.AskSize,
		sig.FeesA, sig.FeesB, sig.SlippageBuffer, sig.SignalStrength, sig.Confidence,
		string(status), sig.ExpiresAt, sig.CreatedAt, meta,
	)
	if err != nil {
		return fmt.Errorf("postgres: append signal %s: %w", sig.ID, err)
	}
	return nil
}

func scanSignal(row pgx.Row) (domain.Signal, error) {
	var sig domain.Signal
	var strategy, dirA, dirB, status string
	err := row.Scan(
		&sig.ID, &sig.PairID, &sig.MarketA.Venue, &sig.MarketA.MarketID, &sig.MarketB.Venue, &sig.MarketB.MarketID,
		&strategy, &dirA, &dirB, &sig.TotalCost, &sig.EdgeBuffer, &sig.IsArbitrage, &sig.ExecutableSize,
		&sig.QuoteA.BestBid, &sig.QuoteA.BestAsk, &sig.QuoteA.BidSize, &sig.QuoteA.AskSize,
		&sig.QuoteB.BestBid, &sig.QuoteB.BestAsk, &sig.QuoteB.BidSize, &sig.QuoteB.AskSize,
		&sig.FeesA, &sig.FeesB, &sig.SlippageBuffer, &sig.SignalStrength, &sig.Confidence, &status,
		&sig.ExpiresAt, &sig.CreatedAt, &sig.Metadata,
	)
	if err != nil {
		return domain.Signal{}, err
	}
	sig.Strategy = domain.Strategy(strategy)
	sig.DirectionA = domain.Direction(dirA)
	sig.DirectionB = domain.Direction(dirB)
	sig.Status = domain.SignalStatus(status)
	sig.QuoteA.Venue = sig.MarketA.Venue
	sig.QuoteB.Venue = sig.MarketB.Venue
	return sig, nil
}

func collectSignals(rows pgx.Rows) ([]domain.Signal, error) {
	defer rows.Close()
	var out []domain.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan signal: %w", err)
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: signal rows: %w", err)
	}
	return out, nil
}

// MarkExpired flips active signals whose expiry is before the cutoff
// and returns how many changed.
func (s *SignalStore) MarkExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE arbitrage_signals SET status = 'expired'
		WHERE status = 'active' AND expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: mark expired signals: %w", err)
	}
	return tag.RowsAffected(), nil
}

// QueryActive returns live arbitrage signals, strongest first.
func (s *SignalStore) QueryActive(ctx context.Context, q domain.ActiveQuery) ([]domain.Signal, error) {
	now := q.Now
	if now.IsZero() {
		now = time.Now()
	}
	// LIMIT NULL is no limit.
	var limit any
	if q.Limit > 0 {
		limit = q.Limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+signalColumns+`
		FROM arbitrage_signals
		WHERE status = 'active' AND is_arbitrage AND expires_at > $1 AND confidence >= $2
		ORDER BY signal_strength DESC, created_at DESC
		LIMIT $3`, now, q.MinConfidence, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query active signals: %w", err)
	}
	return collectSignals(rows)
}

// Get returns one signal.
func (s *SignalStore) Get(ctx context.Context, id string) (domain.Signal, error) {
	sig, err := scanSignal(s.pool.QueryRow(ctx,
		`SELECT `+signalColumns+` FROM arbitrage_signals WHERE id = $1`, id))
	if err != nil {
		return domain.Signal{}, fmt.Errorf("postgres: get signal %s: %w", id, notFound(err))
	}
	return sig, nil
}

// ListCreatedBetween returns signals created in [from, to), oldest first.
func (s *SignalStore) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]domain.Signal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+signalColumns+`
		FROM arbitrage_signals
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at, id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals by creation: %w", err)
	}
	return collectSignals(rows)
}

// Stats aggregates signal counts as of now.
func (s *SignalStore) Stats(ctx context.Context, now time.Time) (domain.SignalStats, error) {
	var st domain.SignalStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'active' AND expires_at > $1),
			COUNT(*) FILTER (WHERE status = 'active' AND is_arbitrage AND expires_at > $1),
			COALESCE(AVG(signal_strength) FILTER (WHERE is_arbitrage), 0)
		FROM arbitrage_signals`, now,
	).Scan(&st.Total, &st.Active, &st.ArbitrageOpportunities, &st.AverageStrength)
	if err != nil {
		return domain.SignalStats{}, fmt.Errorf("postgres: signal stats: %w", err)
	}
	return st, nil
}
