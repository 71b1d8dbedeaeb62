package venue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// CycleResult counts what one acquisition pass stored.
type CycleResult struct {
	Markets      int
	OrderBooks   int
	Trades       int
	FailedBooks  int
	FailedTrades int
}

// Cycle runs one markets → books → trades pass for s. Discovery failures end
// the pass; a failing market is logged and skipped, and a trade failure never
// stops book ingestion.
func Cycle(ctx context.Context, s Session, sink Sink, logger *slog.Logger) (CycleResult, error) {
	var res CycleResult
	venue := s.Venue()
	log := logger.With(slog.String("venue", venue))

	markets, err := s.AcquireMarkets(ctx)
	if err != nil {
		return res, err
	}
	if err := sink.StoreMarkets(ctx, venue, markets); err != nil {
		return res, fmt.Errorf("venue: store markets: %w", err)
	}
	res.Markets = len(markets)

	for _, m := range markets {
		if ctx.Err() != nil {
			return res, nil
		}

		book, capturedAt, err := acquireBook(ctx, s, m.ID)
		if err != nil {
			res.FailedBooks++
			log.Debug("order book skipped", slog.String("market", m.ID), slog.String("error", err.Error()))
		} else {
			if err := sink.StoreBook(ctx, venue, m.ID, book, capturedAt); err != nil {
				res.FailedBooks++
				log.Warn("store order book failed", slog.String("market", m.ID), slog.String("error", err.Error()))
			} else {
				res.OrderBooks++
			}
		}

		trades, err := s.AcquireTrades(ctx, m.ID)
		if err != nil {
			res.FailedTrades++
			log.Debug("trades skipped", slog.String("market", m.ID), slog.String("error", err.Error()))
			continue
		}
		if len(trades) == 0 {
			continue
		}
		if err := sink.StoreTrades(ctx, venue, trades); err != nil {
			res.FailedTrades++
			log.Warn("store trades failed", slog.String("market", m.ID), slog.String("error", err.Error()))
			continue
		}
		res.Trades += len(trades)
	}

	return res, nil
}

// stampedBookSource is implemented by sessions that serve books which may
// predate the call, such as a locally maintained stream book.
type stampedBookSource interface {
	acquireStampedBook(ctx context.Context, marketID string) (domain.OrderBook, time.Time, error)
}

// acquireBook returns the book for marketID and the time it was current.
func acquireBook(ctx context.Context, s Session, marketID string) (domain.OrderBook, time.Time, error) {
	if src, ok := s.(stampedBookSource); ok {
		return src.acquireStampedBook(ctx, marketID)
	}
	book, err := s.AcquireOrderBook(ctx, marketID)
	return book, nowOf(s), err
}

// runCycle runs Cycle and reports the outcome to an observing sink.
func runCycle(ctx context.Context, s Session, sink Sink, logger *slog.Logger) (CycleResult, error) {
	res, err := Cycle(ctx, s, sink, logger)
	if obs, ok := sink.(CycleObserver); ok && ctx.Err() == nil {
		obs.ObserveCycle(s.Venue(), res, err)
	}
	return res, err
}
