package venue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
	"golang.org/x/time/rate"
)

// Fetcher is a venue REST adapter. Each method performs exactly one request
// so the session can bound and pace every call.
type Fetcher interface {
	// FetchMarketPage returns one page of open markets and the cursor of the
	// next page ("" when done).
	FetchMarketPage(ctx context.Context, cursor string) ([]domain.MarketDescriptor, string, error)
	FetchOrderBook(ctx context.Context, marketID string) (domain.OrderBook, error)
	FetchTrades(ctx context.Context, marketID string) ([]domain.Trade, error)
}

// PollingSession pulls a venue's REST API on a fixed interval.
type PollingSession struct {
	name    string
	fetcher Fetcher
	limiter *rate.Limiter
	opts    Options
	logger  *slog.Logger
}

// NewPolling wraps fetcher in a paced, timeout-bounded session.
func NewPolling(name string, fetcher Fetcher, opts Options, logger *slog.Logger) *PollingSession {
	opts = opts.withDefaults()
	limit := rate.Inf
	if opts.RateLimitDelay > 0 {
		limit = rate.Every(opts.RateLimitDelay)
	}
	return &PollingSession{
		name:    name,
		fetcher: fetcher,
		limiter: rate.NewLimiter(limit, 1),
		opts:    opts,
		logger:  logger.With(slog.String("component", "venue"), slog.String("venue", name), slog.String("kind", "polling")),
	}
}

func (s *PollingSession) Venue() string          { return s.name }
func (s *PollingSession) Kind() domain.VenueKind { return domain.VenueKindPolling }
func (s *PollingSession) now() time.Time         { return s.opts.Now() }

// call waits for the limiter and runs fn under the per-request timeout.
func (s *PollingSession) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	rctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()
	return fn(rctx)
}

func (s *PollingSession) AcquireMarkets(ctx context.Context) ([]domain.MarketDescriptor, error) {
	now := s.now()
	var (
		out    []domain.MarketDescriptor
		cursor string
	)
	for page := 0; page < s.opts.MaxPages; page++ {
		var (
			batch []domain.MarketDescriptor
			next  string
		)
		err := s.call(ctx, func(ctx context.Context) error {
			var err error
			batch, next, err = s.fetcher.FetchMarketPage(ctx, cursor)
			return err
		})
		if err != nil {
			return nil, classify(s.name, "acquire markets", err)
		}
		for _, m := range batch {
			if m.ResolvesWithin(now, s.opts.Horizon) {
				out = append(out, m)
			}
		}
		if next == "" || next == cursor {
			break
		}
		cursor = next
	}
	return out, nil
}

func (s *PollingSession) AcquireOrderBook(ctx context.Context, marketID string) (domain.OrderBook, error) {
	var book domain.OrderBook
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		book, err = s.fetcher.FetchOrderBook(ctx, marketID)
		return err
	})
	if err != nil {
		return domain.OrderBook{}, classify(s.name, "acquire order book "+marketID, err)
	}
	return book.Normalized(), nil
}

func (s *PollingSession) AcquireTrades(ctx context.Context, marketID string) ([]domain.Trade, error) {
	var trades []domain.Trade
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		trades, err = s.fetcher.FetchTrades(ctx, marketID)
		return err
	})
	if err != nil {
		return nil, classify(s.name, "acquire trades "+marketID, err)
	}
	return trades, nil
}

// Run executes one cycle immediately and then one per interval. A rejected
// credential ends the loop; every other cycle failure is logged and retried
// on the next tick. Cancelling ctx stops the loop between cycles: a cycle
// already underway runs to completion, bounded by the per-request timeout.
func (s *PollingSession) Run(ctx context.Context, sink Sink, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	work := context.WithoutCancel(ctx)

	for {
		res, err := runCycle(work, s, sink, s.logger)
		switch {
		case err != nil && errors.Is(err, domain.ErrUnauthorized):
			return err
		case err != nil:
			s.logger.Warn("ingestion cycle failed", slog.String("error", err.Error()))
		default:
			s.logger.Debug("ingestion cycle complete",
				slog.Int("markets", res.Markets),
				slog.Int("order_books", res.OrderBooks),
				slog.Int("trades", res.Trades),
				slog.Int("failed_books", res.FailedBooks),
			)
		}
		if ctx.Err() != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

type clock interface{ now() time.Time }

func nowOf(s Session) time.Time {
	if c, ok := s.(clock); ok {
		return c.now()
	}
	return time.Now()
}
