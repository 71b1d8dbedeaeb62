package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// BookStore implements domain.OrderBookStore on sorted sets and hashes.
//
// Key schema, with {m} = venue:market_id:
//
//	venuearb:book:{m}:bids     - sorted set of bid prices (score = price)
//	venuearb:book:{m}:asks     - sorted set of ask prices (score = price)
//	venuearb:book:{m}:bid:size - hash price -> size
//	venuearb:book:{m}:ask:size - hash price -> size
//	venuearb:book:{m}:meta     - hash with "ts" (capture time, unix nanos)
//	venuearb:books:{venue}     - set of market ids with a stored book
type BookStore struct {
	rdb *redis.Client
}

// NewBookStore creates a BookStore backed by the given Client.
func NewBookStore(c *Client) *BookStore {
	return &BookStore{rdb: c.Underlying()}
}

func bookPrefix(venue, marketID string) string {
	return "venuearb:book:" + venue + ":" + marketID
}
func bookBidsKey(venue, marketID string) string    { return bookPrefix(venue, marketID) + ":bids" }
func bookAsksKey(venue, marketID string) string    { return bookPrefix(venue, marketID) + ":asks" }
func bookBidSizeKey(venue, marketID string) string { return bookPrefix(venue, marketID) + ":bid:size" }
func bookAskSizeKey(venue, marketID string) string { return bookPrefix(venue, marketID) + ":ask:size" }
func bookMetaKey(venue, marketID string) string    { return bookPrefix(venue, marketID) + ":meta" }
func bookIndexKey(venue string) string             { return "venuearb:books:" + venue }

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ReplaceBook replaces the stored book in a single MULTI/EXEC.
func (s *BookStore) ReplaceBook(ctx context.Context, venue, marketID string, book domain.OrderBook, capturedAt time.Time) error {
	bidsKey := bookBidsKey(venue, marketID)
	asksKey := bookAsksKey(venue, marketID)
	bidSizeKey := bookBidSizeKey(venue, marketID)
	askSizeKey := bookAskSizeKey(venue, marketID)
	metaKey := bookMetaKey(venue, marketID)

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, bidsKey, asksKey, bidSizeKey, askSizeKey, metaKey)

	for _, row := range domain.LevelsFromBook(venue, marketID, book, capturedAt) {
		price := formatFloat(row.Price)
		zKey, hKey := bidsKey, bidSizeKey
		if row.Side == domain.SideAsk {
			zKey, hKey = asksKey, askSizeKey
		}
		pipe.ZAdd(ctx, zKey, redis.Z{Score: row.Price, Member: price})
		pipe.HSet(ctx, hKey, price, formatFloat(row.Size))
	}

	pipe.HSet(ctx, metaKey, "ts", strconv.FormatInt(capturedAt.UnixNano(), 10))
	pipe.SAdd(ctx, bookIndexKey(venue), marketID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: replace book %s:%s: %w", venue, marketID, err)
	}
	return nil
}

// Levels rebuilds the ranked rows, bids then asks. The reads run in one
// MULTI/EXEC so they never straddle a concurrent ReplaceBook. It returns
// domain.ErrNotFound when no book was ever stored for the market.
func (s *BookStore) Levels(ctx context.Context, venue, marketID string) ([]domain.BookLevel, error) {
	pipe := s.rdb.TxPipeline()
	bidsCmd := pipe.ZRevRangeWithScores(ctx, bookBidsKey(venue, marketID), 0, -1)
	asksCmd := pipe.ZRangeWithScores(ctx, bookAsksKey(venue, marketID), 0, -1)
	bidSizeCmd := pipe.HGetAll(ctx, bookBidSizeKey(venue, marketID))
	askSizeCmd := pipe.HGetAll(ctx, bookAskSizeKey(venue, marketID))
	metaCmd := pipe.HGetAll(ctx, bookMetaKey(venue, marketID))

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get book %s:%s: %w", venue, marketID, err)
	}

	meta, _ := metaCmd.Result()
	tsStr, ok := meta["ts"]
	if !ok {
		return nil, fmt.Errorf("redis: book %s:%s: %w", venue, marketID, domain.ErrNotFound)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis: book %s:%s: bad timestamp %q: %w", venue, marketID, tsStr, err)
	}
	capturedAt := time.Unix(0, tsNano).UTC()

	bids, _ := bidsCmd.Result()
	asks, _ := asksCmd.Result()
	bidSizes, _ := bidSizeCmd.Result()
	askSizes, _ := askSizeCmd.Result()

	out := make([]domain.BookLevel, 0, len(bids)+len(asks))
	if out, err = appendLevels(out, venue, marketID, domain.SideBid, bids, bidSizes, capturedAt); err != nil {
		return nil, fmt.Errorf("redis: book %s:%s: %w", venue, marketID, err)
	}
	if out, err = appendLevels(out, venue, marketID, domain.SideAsk, asks, askSizes, capturedAt); err != nil {
		return nil, fmt.Errorf("redis: book %s:%s: %w", venue, marketID, err)
	}
	return out, nil
}

// appendLevels pairs ranked prices with their sizes. A price without a
// parseable size means the keys are out of step and fails the read.
func appendLevels(out []domain.BookLevel, venue, marketID string, side domain.Side, zs []redis.Z, sizes map[string]string, capturedAt time.Time) ([]domain.BookLevel, error) {
	for i, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		raw, ok := sizes[member]
		if !ok {
			return nil, fmt.Errorf("%s level %s has no size: %w", side, member, domain.ErrData)
		}
		size, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%s level %s: bad size %q: %w", side, member, raw, domain.ErrData)
		}
		out = append(out, domain.BookLevel{
			Venue:      venue,
			MarketID:   marketID,
			Side:       side,
			Rank:       i + 1,
			Price:      z.Score,
			Size:       size,
			CapturedAt: capturedAt,
		})
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
	n, err := s.rdb.SCard(ctx, bookIndexKey(venue)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: count books %s: %w", venue, err)
	}
	return int(n), nil
}

// Compile-time interface check.
var _ domain.OrderBookStore = (*BookStore)(nil)
