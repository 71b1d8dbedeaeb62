package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
	"github.com/alanyoungcy/venuearb/internal/metrics"
	"github.com/alanyoungcy/venuearb/internal/store/memory"
	"github.com/alanyoungcy/venuearb/internal/venue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSession is a venue.Session with canned results. run, when set,
// replaces the default Run which blocks until ctx is cancelled.
type fakeSession struct {
	name       string
	markets    []domain.MarketDescriptor
	marketsErr error
	books      map[string]domain.OrderBook
	trades     map[string][]domain.Trade
	run        func(ctx context.Context, sink venue.Sink) error
	runs       atomic.Int32
}

func (f *fakeSession) Venue() string          { return f.name }
func (f *fakeSession) Kind() domain.VenueKind { return domain.VenueKindPolling }

func (f *fakeSession) AcquireMarkets(context.Context) ([]domain.MarketDescriptor, error) {
	return f.markets, f.marketsErr
}

func (f *fakeSession) AcquireOrderBook(_ context.Context, id string) (domain.OrderBook, error) {
	b, ok := f.books[id]
	if !ok {
		return domain.OrderBook{}, domain.DataError(f.name, "book", domain.ErrNotFound)
	}
	return b, nil
}

func (f *fakeSession) AcquireTrades(_ context.Context, id string) ([]domain.Trade, error) {
	return f.trades[id], nil
}

func (f *fakeSession) Run(ctx context.Context, sink venue.Sink, _ time.Duration) error {
	f.runs.Add(1)
	if f.run != nil {
		return f.run(ctx, sink)
	}
	<-ctx.Done()
	return nil
}

func newStores() Stores {
	return Stores{
		Markets: memory.NewMarketStore(),
		Books:   memory.NewBookStore(),
		Trades:  memory.NewTradeStore(),
		Health:  memory.NewHealthStore(),
	}
}

func newWriter(stores Stores) *Writer {
	w := NewWriter(stores, metrics.New(nil), discardLogger())
	w.now = func() time.Time { return now }
	return w
}

func kalshiSession() *fakeSession {
	return &fakeSession{
		name: "kalshi",
		markets: []domain.MarketDescriptor{
			{Venue: "kalshi", ID: "A", Status: domain.MarketStatusActive},
			{Venue: "kalshi", ID: "B", Status: domain.MarketStatusActive},
		},
		books: map[string]domain.OrderBook{
			"A": {Bids: []domain.PriceLevel{{Price: 0.45, Size: 100}}, Asks: []domain.PriceLevel{{Price: 0.47, Size: 50}}},
		},
		trades: map[string][]domain.Trade{
			"A": {{Venue: "kalshi", MarketID: "A", TradeID: "t1", Price: 0.46, Size: 3}},
		},
	}
}

func TestWriter_StoreBookNormalizesAndDetaches(t *testing.T) {
	stores := newStores()
	w := newWriter(stores)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	book := domain.OrderBook{
		Bids: []domain.PriceLevel{{Price: 0.40, Size: 1}, {Price: 0.44, Size: 2}, {Price: 0.42, Size: 0}},
		Asks: []domain.PriceLevel{{Price: 0.50, Size: 1}, {Price: 0.48, Size: 4}},
	}
	require.NoError(t, w.StoreBook(ctx, "kalshi", "A", book, now))

	rows, err := stores.Books.Levels(context.Background(), "kalshi", "A")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, 0.44, rows[0].Price)
	assert.Equal(t, 0.48, rows[2].Price)
}

func TestWriter_SetMarketStatusIgnoresUnknown(t *testing.T) {
	stores := newStores()
	w := newWriter(stores)
	ctx := context.Background()

	require.NoError(t, w.SetMarketStatus(ctx, domain.MarketRef{Venue: "ctf", MarketID: "0x1"}, domain.MarketStatusClosed))

	require.NoError(t, w.StoreMarkets(ctx, "ctf", []domain.MarketDescriptor{{Venue: "ctf", ID: "0x1", Status: domain.MarketStatusActive}}))
	require.NoError(t, w.SetMarketStatus(ctx, domain.MarketRef{Venue: "ctf", MarketID: "0x1"}, domain.MarketStatusClosed))
	active, err := w.ActiveMarkets(ctx, "ctf")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRunDiscoveryOnce(t *testing.T) {
	stores := newStores()
	w := newWriter(stores)
	broken := &fakeSession{name: "polymarket", marketsErr: domain.ConnectivityError("polymarket", "markets", errors.New("timeout"))}
	c := NewCoordinator([]venue.Session{kalshiSession(), broken}, w, Config{}, discardLogger())

	res := c.RunDiscoveryOnce(context.Background(), "kalshi", "polymarket", "nowhere")
	assert.Equal(t, map[string]DiscoveryResult{
		"kalshi":     DiscoverySuccess,
		"polymarket": DiscoveryFailure,
		"nowhere":    DiscoveryUnavailable,
	}, res)

	n, err := stores.Markets.Count(context.Background(), "kalshi")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	status := c.LatestStatus()
	assert.True(t, status["kalshi"].Healthy)
	assert.Equal(t, int64(2), status["kalshi"].MarketCount)
	assert.False(t, status["polymarket"].Healthy)
	assert.Contains(t, status["polymarket"].LastError, "timeout")
	assert.NotContains(t, status, "nowhere")
}

func TestRunFullIngestionOnce(t *testing.T) {
	stores := newStores()
	w := newWriter(stores)
	c := NewCoordinator([]venue.Session{kalshiSession()}, w, Config{}, discardLogger())

	res := c.RunFullIngestionOnce(context.Background())
	assert.Equal(t, IngestionCounts{Markets: 2, OrderBooks: 1, Trades: 1}, res["kalshi"])

	res = c.RunFullIngestionOnce(context.Background(), "kalshi", "nowhere")
	assert.Equal(t, IngestionCounts{Markets: -1, OrderBooks: -1, Trades: -1, Error: "reader not available"}, res["nowhere"])

	st := c.LatestStatus()["kalshi"]
	assert.True(t, st.Healthy)
	assert.Equal(t, 1, st.OrderBookCount)
	require.NotNil(t, st.LastSuccess)
	assert.Equal(t, now, *st.LastSuccess)

	mirrored, err := stores.Health.List(context.Background())
	require.NoError(t, err)
	require.Len(t, mirrored, 1)
	assert.Equal(t, "kalshi", mirrored[0].Venue)
}

func TestStartContinuous_IsolatesVenueFailure(t *testing.T) {
	stores := newStores()
	w := newWriter(stores)

	good := kalshiSession()
	good.run = func(ctx context.Context, sink venue.Sink) error {
		_ = sink.StoreBook(ctx, "kalshi", "A", good.books["A"], now)
		<-ctx.Done()
		return nil
	}
	bad := &fakeSession{name: "polymarket", run: func(context.Context, venue.Sink) error {
		return domain.ConnectivityError("polymarket", "stream connect", errors.New("5 reconnect attempts exhausted"))
	}}

	c := NewCoordinator([]venue.Session{good, bad}, w, Config{}, discardLogger())
	require.NoError(t, c.StartContinuous(nil, time.Second))
	assert.Error(t, c.StartContinuous(nil, time.Second), "second start")

	assert.Eventually(t, func() bool {
		st := c.LatestStatus()["polymarket"]
		return !st.Healthy && !st.Running && st.LastError != ""
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, c.Running())
	assert.True(t, c.LatestStatus()["kalshi"].Running)

	c.Stop()
	assert.False(t, c.Running())
	assert.False(t, c.LatestStatus()["kalshi"].Running)
	assert.Equal(t, int32(1), good.runs.Load())

	c.Stop()
	require.NoError(t, c.StartContinuous([]string{"kalshi"}, 0), "restart after stop")
	c.Stop()
	assert.Equal(t, int32(2), good.runs.Load())
}

func TestStartContinuous_NoVenues(t *testing.T) {
	c := NewCoordinator(nil, newWriter(newStores()), Config{}, discardLogger())
	assert.Error(t, c.StartContinuous([]string{"nowhere"}, time.Second))
	assert.False(t, c.Running())
}

func TestTestConnection(t *testing.T) {
	c := NewCoordinator([]venue.Session{kalshiSession()}, newWriter(newStores()), Config{}, discardLogger())

	n, err := c.TestConnection(context.Background(), "kalshi")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = c.TestConnection(context.Background(), "nowhere")
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	assert.Equal(t, []VenueInfo{{Name: "kalshi", Kind: domain.VenueKindPolling}}, c.Venues())
}

// slowFetcher is a venue.Fetcher whose book requests take delay, honouring
// cancellation the way an HTTP client does.
type slowFetcher struct {
	delay   time.Duration
	started chan struct{}
	once    atomic.Bool
}

func (f *slowFetcher) FetchMarketPage(context.Context, string) ([]domain.MarketDescriptor, string, error) {
	resolves := now.Add(time.Hour)
	return []domain.MarketDescriptor{
		{Venue: "kalshi", ID: "A", Status: domain.MarketStatusActive, ResolutionDate: &resolves},
	}, "", nil
}

func (f *slowFetcher) FetchOrderBook(ctx context.Context, _ string) (domain.OrderBook, error) {
	if f.once.CompareAndSwap(false, true) {
		close(f.started)
	}
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return domain.OrderBook{}, ctx.Err()
	}
	return domain.OrderBook{
		Bids: []domain.PriceLevel{{Price: 0.45, Size: 100}},
		Asks: []domain.PriceLevel{{Price: 0.47, Size: 50}},
	}, nil
}

func (f *slowFetcher) FetchTrades(context.Context, string) ([]domain.Trade, error) {
	return nil, nil
}

func TestStop_DrainsInFlightBookFetch(t *testing.T) {
	stores := newStores()
	w := newWriter(stores)
	f := &slowFetcher{delay: 200 * time.Millisecond, started: make(chan struct{})}
	s := venue.NewPolling("kalshi", f, venue.Options{Now: func() time.Time { return now }}, discardLogger())

	c := NewCoordinator([]venue.Session{s}, w, Config{}, discardLogger())
	require.NoError(t, c.StartContinuous(nil, time.Hour))

	select {
	case <-f.started:
	case <-time.After(2 * time.Second):
		t.Fatal("book fetch never started")
	}
	c.Stop()

	levels, err := stores.Books.Levels(context.Background(), "kalshi", "A")
	require.NoError(t, err)
	assert.Len(t, levels, 2)
	assert.False(t, c.Running())
	assert.True(t, c.LatestStatus()["kalshi"].Healthy)
}

func TestStartContinuous_ResetsWhenAllLoopsFail(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	s := &fakeSession{name: "polymarket", run: func(ctx context.Context, _ venue.Sink) error {
		if fail.Load() {
			return domain.ConnectivityError("polymarket", "stream connect", errors.New("5 reconnect attempts exhausted"))
		}
		<-ctx.Done()
		return nil
	}}
	c := NewCoordinator([]venue.Session{s}, newWriter(newStores()), Config{}, discardLogger())

	require.NoError(t, c.StartContinuous(nil, time.Second))
	assert.Eventually(t, func() bool { return !c.Running() }, 2*time.Second, 10*time.Millisecond)

	fail.Store(false)
	require.NoError(t, c.StartContinuous(nil, time.Second), "restart after every loop failed")
	assert.True(t, c.Running())
	c.Stop()
	assert.Equal(t, int32(2), s.runs.Load())
}
