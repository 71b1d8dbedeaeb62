package venue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSink captures everything a session writes.
type recordingSink struct {
	mu         sync.Mutex
	markets    []domain.MarketDescriptor
	books      map[string]domain.OrderBook
	capturedAt map[string]time.Time
	bookWrites int
	trades     []domain.Trade
	statuses   map[domain.MarketRef]domain.MarketStatus
	cycles     []CycleResult
	bookErr    map[string]error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		books:      make(map[string]domain.OrderBook),
		capturedAt: make(map[string]time.Time),
		statuses:   make(map[domain.MarketRef]domain.MarketStatus),
		bookErr:    make(map[string]error),
	}
}

func (s *recordingSink) StoreMarkets(_ context.Context, _ string, markets []domain.MarketDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets = append(s.markets, markets...)
	return nil
}

func (s *recordingSink) StoreBook(_ context.Context, _ string, marketID string, book domain.OrderBook, capturedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.bookErr[marketID]; err != nil {
		return err
	}
	s.books[marketID] = book
	s.capturedAt[marketID] = capturedAt
	s.bookWrites++
	return nil
}

func (s *recordingSink) StoreTrades(_ context.Context, _ string, trades []domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trades...)
	return nil
}

func (s *recordingSink) SetMarketStatus(_ context.Context, ref domain.MarketRef, status domain.MarketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[ref] = status
	return nil
}

func (s *recordingSink) ActiveMarkets(_ context.Context, _ string) ([]domain.MarketDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.MarketDescriptor(nil), s.markets...), nil
}

func (s *recordingSink) ObserveCycle(_ string, res CycleResult, _ error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles = append(s.cycles, res)
}

func (s *recordingSink) book(marketID string) (domain.OrderBook, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[marketID]
	return b, ok
}

func (s *recordingSink) bookTime(marketID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturedAt[marketID]
}

func (s *recordingSink) cycleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cycles)
}

func (s *recordingSink) marketCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.markets)
}

func (s *recordingSink) tradeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades)
}

// fakeFetcher serves canned pages, books and trades.
type fakeFetcher struct {
	mu        sync.Mutex
	pages     map[string]fakePage
	books     map[string]domain.OrderBook
	bookErrs  map[string]error
	trades    map[string][]domain.Trade
	tradeErr  error
	marketErr error
	calls     int
}

type fakePage struct {
	markets []domain.MarketDescriptor
	next    string
}

func (f *fakeFetcher) FetchMarketPage(_ context.Context, cursor string) ([]domain.MarketDescriptor, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.marketErr != nil {
		return nil, "", f.marketErr
	}
	p := f.pages[cursor]
	return p.markets, p.next, nil
}

func (f *fakeFetcher) FetchOrderBook(_ context.Context, marketID string) (domain.OrderBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.bookErrs[marketID]; err != nil {
		return domain.OrderBook{}, err
	}
	b, ok := f.books[marketID]
	if !ok {
		return domain.OrderBook{}, domain.ErrNotFound
	}
	return b, nil
}

func (f *fakeFetcher) FetchTrades(_ context.Context, marketID string) ([]domain.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.tradeErr != nil {
		return nil, f.tradeErr
	}
	return f.trades[marketID], nil
}

// fakeConn is a StreamConn fed by the test.
type fakeConn struct {
	events     chan StreamEvent
	mu         sync.Mutex
	subscribed []string
	err        error
	closeOnce  sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan StreamEvent, 16)}
}

func (c *fakeConn) Subscribe(_ context.Context, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, ids...)
	return nil
}

func (c *fakeConn) Events() <-chan StreamEvent { return c.events }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error { return nil }

// drop ends the connection with err.
func (c *fakeConn) drop(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.events) })
}

func (c *fakeConn) subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subscribed...)
}

// scriptedDialer fails the first failN dials, then hands out conns in order.
type scriptedDialer struct {
	mu    sync.Mutex
	failN int
	conns []*fakeConn
	dials int
}

var errDial = errors.New("dial refused")

func (d *scriptedDialer) Dial(_ context.Context) (StreamConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failN > 0 {
		d.failN--
		return nil, errDial
	}
	if len(d.conns) == 0 {
		return nil, errDial
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *scriptedDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func soon(now time.Time, d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}
