// Package venue normalizes the three venue delivery protocols (periodic
// REST pulls, persistent streams and chain logs) behind one Session
// interface that feeds a Sink.
package venue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// Session acquires market data from one venue.
type Session interface {
	Venue() string
	Kind() domain.VenueKind

	// AcquireMarkets returns the venue's open markets that resolve within the
	// configured horizon. Markets without a resolution date are dropped.
	AcquireMarkets(ctx context.Context) ([]domain.MarketDescriptor, error)
	// AcquireOrderBook returns the normalized top of book for one market.
	AcquireOrderBook(ctx context.Context, marketID string) (domain.OrderBook, error)
	// AcquireTrades returns recent trades for one market, best effort.
	AcquireTrades(ctx context.Context, marketID string) ([]domain.Trade, error)

	// Run is the variant's acquisition loop. It returns nil once ctx is
	// cancelled, or a connectivity error when the venue is unreachable for
	// good. Single-item failures never end the loop.
	Run(ctx context.Context, sink Sink, interval time.Duration) error
}

// Sink receives everything a session acquires.
type Sink interface {
	StoreMarkets(ctx context.Context, venue string, markets []domain.MarketDescriptor) error
	StoreBook(ctx context.Context, venue, marketID string, book domain.OrderBook, capturedAt time.Time) error
	StoreTrades(ctx context.Context, venue string, trades []domain.Trade) error
	SetMarketStatus(ctx context.Context, ref domain.MarketRef, status domain.MarketStatus) error
	ActiveMarkets(ctx context.Context, venue string) ([]domain.MarketDescriptor, error)
}

// CycleObserver is implemented by sinks that want to hear about every
// completed acquisition pass, successful or not.
type CycleObserver interface {
	ObserveCycle(venue string, res CycleResult, err error)
}

// Options tunes a session. Zero values fall back to the defaults below.
type Options struct {
	RequestTimeout       time.Duration
	RateLimitDelay       time.Duration
	Horizon              time.Duration
	MaxReconnectAttempts int
	ReconnectInterval    time.Duration
	PollInterval         time.Duration
	ErrorBackoff         time.Duration
	LookbackBlocks       uint64
	MaxPages             int
	Now                  func() time.Time
}

const (
	DefaultRequestTimeout       = 10 * time.Second
	DefaultRateLimitDelay       = 100 * time.Millisecond
	DefaultHorizon              = 28 * 24 * time.Hour
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectInterval    = 10 * time.Second
	DefaultPollInterval         = 5 * time.Second
	DefaultErrorBackoff         = 10 * time.Second
	DefaultLookbackBlocks       = 100
	DefaultMaxPages             = 50
)

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.RateLimitDelay < 0 {
		o.RateLimitDelay = 0
	}
	if o.Horizon <= 0 {
		o.Horizon = DefaultHorizon
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = DefaultReconnectInterval
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = DefaultErrorBackoff
	}
	if o.LookbackBlocks == 0 {
		o.LookbackBlocks = DefaultLookbackBlocks
	}
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultMaxPages
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Config selects and builds one session variant.
type Config struct {
	Name    string
	Kind    domain.VenueKind
	Fetcher Fetcher      // polling, and discovery for streaming
	Dialer  StreamDialer // streaming
	Logs    LogSource    // chainlog
	Decoder LogDecoder   // chainlog
	Options Options
}

// New builds the session variant named by cfg.Kind. Missing collaborators
// yield a ConfigurationError so the caller can skip just this venue.
func New(cfg Config, logger *slog.Logger) (Session, error) {
	switch cfg.Kind {
	case domain.VenueKindPolling:
		if cfg.Fetcher == nil {
			return nil, domain.ConfigurationError(cfg.Name, "new session", errors.New("polling venue needs a fetcher"))
		}
		return NewPolling(cfg.Name, cfg.Fetcher, cfg.Options, logger), nil
	case domain.VenueKindStreaming:
		if cfg.Fetcher == nil || cfg.Dialer == nil {
			return nil, domain.ConfigurationError(cfg.Name, "new session", errors.New("streaming venue needs a fetcher and a dialer"))
		}
		return NewStreaming(cfg.Name, cfg.Fetcher, cfg.Dialer, cfg.Options, logger), nil
	case domain.VenueKindChainLog:
		if cfg.Logs == nil || cfg.Decoder == nil {
			return nil, domain.ConfigurationError(cfg.Name, "new session", errors.New("chainlog venue needs a log source and a decoder"))
		}
		return NewChainLog(cfg.Name, cfg.Logs, cfg.Decoder, cfg.Options, logger), nil
	default:
		return nil, domain.ConfigurationError(cfg.Name, "new session", errors.New("unknown venue kind "+string(cfg.Kind)))
	}
}

// classify tags an adapter error with a kind unless it already carries one.
// Not-found and malformed responses are data problems; everything else is
// treated as a connectivity failure.
func classify(venue, op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *domain.Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, domain.ErrNotFound) {
		return domain.DataError(venue, op, err)
	}
	return domain.ConnectivityError(venue, op, err)
}

// sleepCtx waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
