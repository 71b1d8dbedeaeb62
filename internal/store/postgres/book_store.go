package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// BookStore implements domain.OrderBookStore on the book_levels table. A
// replacement deletes and re-inserts the market's rows in one transaction,
// so readers see either the old or the new book.
type BookStore struct {
	pool *pgxpool.Pool
}

// NewBookStore creates a new BookStore backed by the given connection pool.
func NewBookStore(pool *pgxpool.Pool) *BookStore {
	return &BookStore{pool: pool}
}

// ReplaceBook atomically replaces both sides of the market's book.
func (s *BookStore) ReplaceBook(ctx context.Context, venue, marketID string, book domain.OrderBook, capturedAt time.Time) error {
	rows := domain.LevelsFromBook(venue, marketID, book, capturedAt)

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM book_levels WHERE venue = $1 AND market_id = $2`, venue, marketID); err != nil {
			return err
		}
		if len(rows) > 0 {
			_, err := tx.CopyFrom(ctx,
				pgx.Identifier{"book_levels"},
				[]string{"venue", "market_id", "side", "rank", "price", "size", "captured_at"},
				pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
					r := rows[i]
					return []any{r.Venue, r.MarketID, string(r.Side), int16(r.Rank), r.Price, r.Size, r.CapturedAt}, nil
				}),
			)
			if err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO book_meta (venue, market_id, captured_at) VALUES ($1, $2, $3)
			ON CONFLICT (venue, market_id) DO UPDATE SET captured_at = EXCLUDED.captured_at`,
			venue, marketID, capturedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: replace book %s:%s: %w", venue, marketID, err)
	}
	return nil
}

// Levels returns the stored rows, bids then asks, each by rank.
func (s *BookStore) Levels(ctx context.Context, venue, marketID string) ([]domain.BookLevel, error) {
	var known bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM book_meta WHERE venue = $1 AND market_id = $2)`,
		venue, marketID).Scan(&known); err != nil {
		return nil, fmt.Errorf("postgres: book meta %s:%s: %w", venue, marketID, err)
	}
	if !known {
		return nil, fmt.Errorf("postgres: book %s:%s: %w", venue, marketID, domain.ErrNotFound)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT side, rank, price, size, captured_at
		FROM book_levels
		WHERE venue = $1 AND market_id = $2
		ORDER BY side = 'ask', rank`, venue, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: query book levels: %w", err)
	}
	defer rows.Close()

	var out []domain.BookLevel
	for rows.Next() {
		l := domain.BookLevel{Venue: venue, MarketID: marketID}
		var side string
		var rank int16
		if err := rows.Scan(&side, &rank, &l.Price, &l.Size, &l.CapturedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan book level: %w", err)
		}
		l.Side = domain.Side(side)
		l.Rank = int(rank)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: book levels rows: %w", err)
	}
	return out, nil
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
func (s *BookStore) CountBooks(ctx context.Context, venue string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM book_meta WHERE venue = $1`, venue).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count books: %w", err)
	}
	return n, nil
}
