package venue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// StreamEventKind is the kind of an inbound stream message.
type StreamEventKind string

const (
	StreamAck      StreamEventKind = "ack"
	StreamSnapshot StreamEventKind = "snapshot"
	StreamDelta    StreamEventKind = "delta"
	StreamTicker   StreamEventKind = "ticker"
	StreamTrade    StreamEventKind = "trade"
	StreamError    StreamEventKind = "error"
)

// StreamEvent is one decoded stream message.
type StreamEvent struct {
	Kind      StreamEventKind
	MarketID  string
	Book      domain.OrderBook // StreamSnapshot
	Delta     domain.BookDelta // StreamDelta
	Trade     domain.Trade     // StreamTrade
	LastPrice float64          // StreamTicker
	Message   string           // StreamAck, StreamError
}

// StreamConn is one live venue connection. Events are delivered in arrival
// order; the channel is closed when the connection ends, after which Err
// reports why.
type StreamConn interface {
	Subscribe(ctx context.Context, marketIDs []string) error
	Events() <-chan StreamEvent
	Err() error
	Close() error
}

// StreamDialer opens stream connections.
type StreamDialer interface {
	Dial(ctx context.Context) (StreamConn, error)
}

const maxBufferedTrades = 500

// StreamingSession keeps one long-lived connection per venue and maintains a
// local top of book per market from snapshots and deltas. Discovery goes
// through the venue's REST fetcher.
type StreamingSession struct {
	name   string
	rest   *PollingSession
	dialer StreamDialer
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	books      map[string]*localBook
	trades     map[string][]domain.Trade
	subscribed map[string]bool
}

// NewStreaming builds a streaming session.
func NewStreaming(name string, fetcher Fetcher, dialer StreamDialer, opts Options, logger *slog.Logger) *StreamingSession {
	opts = opts.withDefaults()
	return &StreamingSession{
		name:       name,
		rest:       NewPolling(name, fetcher, opts, logger),
		dialer:     dialer,
		opts:       opts,
		logger:     logger.With(slog.String("component", "venue"), slog.String("venue", name), slog.String("kind", "streaming")),
		books:      make(map[string]*localBook),
		trades:     make(map[string][]domain.Trade),
		subscribed: make(map[string]bool),
	}
}

func (s *StreamingSession) Venue() string          { return s.name }
func (s *StreamingSession) Kind() domain.VenueKind { return domain.VenueKindStreaming }
func (s *StreamingSession) now() time.Time         { return s.opts.Now() }

func (s *StreamingSession) AcquireMarkets(ctx context.Context) ([]domain.MarketDescriptor, error) {
	return s.rest.AcquireMarkets(ctx)
}

// AcquireOrderBook serves the streamed book when one exists and falls back
// to a REST fetch otherwise.
func (s *StreamingSession) AcquireOrderBook(ctx context.Context, marketID string) (domain.OrderBook, error) {
	book, _, err := s.acquireStampedBook(ctx, marketID)
	return book, err
}

// acquireStampedBook is AcquireOrderBook plus the time the returned book was
// last current: the last stream update for a streamed book, now for a REST
// fetch.
func (s *StreamingSession) acquireStampedBook(ctx context.Context, marketID string) (domain.OrderBook, time.Time, error) {
	s.mu.Lock()
	lb, ok := s.books[marketID]
	var (
		book domain.OrderBook
		at   time.Time
	)
	if ok {
		book, at = lb.orderBook(), lb.updatedAt
	}
	s.mu.Unlock()
	if ok {
		return book, at, nil
	}
	book, err := s.rest.AcquireOrderBook(ctx, marketID)
	return book, s.now(), err
}

// AcquireTrades drains trades buffered from the stream for marketID.
func (s *StreamingSession) AcquireTrades(_ context.Context, marketID string) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trades := s.trades[marketID]
	delete(s.trades, marketID)
	return trades, nil
}

// Run dials, serves the connection until it drops and redials after a fixed
// reconnect interval. Consecutive failed dials are counted; the count resets
// on every successful connect, and reaching MaxReconnectAttempts ends Run
// with a connectivity error.
func (s *StreamingSession) Run(ctx context.Context, sink Sink, interval time.Duration) error {
	failures := 0
	for {
		dctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
		conn, err := s.dialer.Dial(dctx)
		cancel()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			failures++
			s.logger.Warn("stream connect failed",
				slog.Int("attempt", failures),
				slog.Int("max_attempts", s.opts.MaxReconnectAttempts),
				slog.String("error", err.Error()),
			)
			if failures >= s.opts.MaxReconnectAttempts {
				return domain.ConnectivityError(s.name, "stream connect",
					fmt.Errorf("%d reconnect attempts exhausted: %w", failures, err))
			}
			if !sleepCtx(ctx, s.opts.ReconnectInterval) {
				return nil
			}
			continue
		}

		failures = 0
		s.logger.Info("stream connected")
		err = s.serve(ctx, conn, sink, interval)
		_ = conn.Close()

		// Local books stop tracking the venue once the connection is gone.
		s.mu.Lock()
		s.books = make(map[string]*localBook)
		s.subscribed = make(map[string]bool)
		s.mu.Unlock()

		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = domain.ErrWSDisconnect
		}
		s.logger.Warn("stream connection lost", slog.String("error", err.Error()))

		if !sleepCtx(ctx, s.opts.ReconnectInterval) {
			return nil
		}
	}
}

// serve subscribes to the current market set and applies events until the
// connection ends. The market set is refreshed once per interval. ctx is only
// checked between events, so an event being applied is always written.
func (s *StreamingSession) serve(ctx context.Context, conn StreamConn, sink Sink, interval time.Duration) error {
	work := context.WithoutCancel(ctx)
	if err := s.refreshSubscriptions(work, conn, sink); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	events := conn.Events()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.refreshSubscriptions(work, conn, sink); err != nil {
				return err
			}
		case ev, ok := <-events:
			if !ok {
				return conn.Err()
			}
			s.handle(work, sink, ev)
		}
	}
}

// refreshSubscriptions discovers markets over REST and subscribes each new
// one. When discovery fails the markets already known to the sink are used.
func (s *StreamingSession) refreshSubscriptions(ctx context.Context, conn StreamConn, sink Sink) error {
	markets, err := s.AcquireMarkets(ctx)
	if err == nil {
		if serr := sink.StoreMarkets(ctx, s.name, markets); serr != nil {
			s.logger.Warn("store markets failed", slog.String("error", serr.Error()))
		}
	} else {
		s.logger.Warn("stream discovery failed, using stored markets", slog.String("error", err.Error()))
		markets, err = sink.ActiveMarkets(ctx, s.name)
		if err != nil {
			s.logger.Warn("load stored markets failed", slog.String("error", err.Error()))
		}
	}
	if obs, ok := sink.(CycleObserver); ok {
		s.mu.Lock()
		books := len(s.books)
		s.mu.Unlock()
		obs.ObserveCycle(s.name, CycleResult{Markets: len(markets), OrderBooks: books}, nil)
	}

	for _, m := range markets {
		s.mu.Lock()
		done := s.subscribed[m.ID]
		s.mu.Unlock()
		if done {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
		err := conn.Subscribe(sctx, []string{m.ID})
		cancel()
		if err != nil {
			return fmt.Errorf("venue: subscribe %s: %w", m.ID, err)
		}
		s.mu.Lock()
		s.subscribed[m.ID] = true
		s.mu.Unlock()
	}
	return nil
}

// handle applies one event. Every book change is written as a full top of
// book so readers never observe a half-applied delta.
func (s *StreamingSession) handle(ctx context.Context, sink Sink, ev StreamEvent) {
	switch ev.Kind {
	case StreamAck:
		s.logger.Debug("subscription acknowledged", slog.String("detail", ev.Message))
	case StreamSnapshot:
		s.mu.Lock()
		lb := newLocalBook()
		lb.load(ev.Book)
		lb.updatedAt = s.now()
		s.books[ev.MarketID] = lb
		book, at := lb.orderBook(), lb.updatedAt
		s.mu.Unlock()
		s.storeBook(ctx, sink, ev.MarketID, book, at)
	case StreamDelta:
		s.mu.Lock()
		lb, ok := s.books[ev.MarketID]
		if !ok {
			lb = newLocalBook()
			s.books[ev.MarketID] = lb
		}
		lb.apply(ev.Delta)
		lb.updatedAt = s.now()
		book, at := lb.orderBook(), lb.updatedAt
		s.mu.Unlock()
		s.storeBook(ctx, sink, ev.MarketID, book, at)
	case StreamTicker:
		s.logger.Debug("ticker", slog.String("market", ev.MarketID), slog.Float64("last_price", ev.LastPrice))
	case StreamTrade:
		s.mu.Lock()
		buf := append(s.trades[ev.MarketID], ev.Trade)
		if len(buf) > maxBufferedTrades {
			buf = buf[len(buf)-maxBufferedTrades:]
		}
		s.trades[ev.MarketID] = buf
		s.mu.Unlock()
	case StreamError:
		s.logger.Warn("stream error message", slog.String("market", ev.MarketID), slog.String("detail", ev.Message))
	default:
		s.logger.Debug("unhandled stream event", slog.String("kind", string(ev.Kind)))
	}
}

func (s *StreamingSession) storeBook(ctx context.Context, sink Sink, marketID string, book domain.OrderBook, at time.Time) {
	if err := sink.StoreBook(ctx, s.name, marketID, book, at); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("store streamed book failed", slog.String("market", marketID), slog.String("error", err.Error()))
	}
}

// localBook is a price-keyed book maintained from stream events.
type localBook struct {
	bids      map[float64]float64
	asks      map[float64]float64
	updatedAt time.Time
}

func newLocalBook() *localBook {
	return &localBook{bids: make(map[float64]float64), asks: make(map[float64]float64)}
}

// priceKey rounds away float noise from cent and complement arithmetic.
func priceKey(p float64) float64 {
	return math.Round(p*1e6) / 1e6
}

func (b *localBook) load(book domain.OrderBook) {
	for _, l := range book.Bids {
		if l.Size > 0 {
			b.bids[priceKey(l.Price)] = l.Size
		}
	}
	for _, l := range book.Asks {
		if l.Size > 0 {
			b.asks[priceKey(l.Price)] = l.Size
		}
	}
}

func (b *localBook) apply(d domain.BookDelta) {
	side := b.bids
	if d.Side == domain.SideAsk {
		side = b.asks
	}
	key := priceKey(d.Price)
	size := d.Size
	if d.Relative {
		size += side[key]
	}
	if size <= 0 {
		delete(side, key)
		return
	}
	side[key] = size
}

func (b *localBook) orderBook() domain.OrderBook {
	book := domain.OrderBook{
		Bids: make([]domain.PriceLevel, 0, len(b.bids)),
		Asks: make([]domain.PriceLevel, 0, len(b.asks)),
	}
	for p, sz := range b.bids {
		book.Bids = append(book.Bids, domain.PriceLevel{Price: p, Size: sz})
	}
	for p, sz := range b.asks {
		book.Asks = append(book.Asks, domain.PriceLevel{Price: p, Size: sz})
	}
	return book.Normalized()
}
