package venue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testOptions() Options {
	return Options{
		RequestTimeout:    time.Second,
		RateLimitDelay:    0,
		Horizon:           28 * 24 * time.Hour,
		ReconnectInterval: time.Millisecond,
		PollInterval:      time.Millisecond,
		ErrorBackoff:      time.Millisecond,
		Now:               func() time.Time { return fixedNow },
	}
}

func market(id string, resolves *time.Time) domain.MarketDescriptor {
	return domain.MarketDescriptor{Venue: "kalshi", ID: id, Title: id, ResolutionDate: resolves, Status: domain.MarketStatusActive}
}

func TestPolling_AcquireMarkets_PagesAndHorizon(t *testing.T) {
	f := &fakeFetcher{pages: map[string]fakePage{
		"": {markets: []domain.MarketDescriptor{
			market("near", soon(fixedNow, 24*time.Hour)),
			market("undated", nil),
		}, next: "p2"},
		"p2": {markets: []domain.MarketDescriptor{
			market("far", soon(fixedNow, 60*24*time.Hour)),
			market("edge", soon(fixedNow, 28*24*time.Hour)),
		}},
	}}
	s := NewPolling("kalshi", f, testOptions(), discardLogger())

	got, err := s.AcquireMarkets(context.Background())
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, m := range got {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"near", "edge"}, ids)
}

func TestPolling_AcquireOrderBook_Normalizes(t *testing.T) {
	var bids []domain.PriceLevel
	for i := 1; i <= 12; i++ {
		bids = append(bids, domain.PriceLevel{Price: float64(i) / 100, Size: 5})
	}
	f := &fakeFetcher{books: map[string]domain.OrderBook{
		"m1": {
			Bids: bids,
			Asks: []domain.PriceLevel{{Price: 0.60, Size: 1}, {Price: 0.55, Size: 2}, {Price: 0.50, Size: 0}},
		},
	}}
	s := NewPolling("kalshi", f, testOptions(), discardLogger())

	book, err := s.AcquireOrderBook(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, book.Bids, domain.MaxBookLevels)
	assert.Equal(t, 0.12, book.Bids[0].Price)
	assert.Equal(t, 0.03, book.Bids[9].Price)
	require.Len(t, book.Asks, 2)
	assert.Equal(t, 0.55, book.Asks[0].Price)
}

func TestPolling_ErrorClassification(t *testing.T) {
	f := &fakeFetcher{
		bookErrs:  map[string]error{"down": errors.New("connection reset")},
		marketErr: fmt.Errorf("kalshi: %w", domain.ErrUnauthorized),
	}
	s := NewPolling("kalshi", f, testOptions(), discardLogger())

	_, err := s.AcquireOrderBook(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrData)

	_, err = s.AcquireOrderBook(context.Background(), "down")
	assert.ErrorIs(t, err, domain.ErrConnectivity)

	_, err = s.AcquireMarkets(context.Background())
	assert.ErrorIs(t, err, domain.ErrConnectivity)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestCycle_SkipsFailingMarketAndSurvivesTradeErrors(t *testing.T) {
	date := soon(fixedNow, time.Hour)
	f := &fakeFetcher{
		pages: map[string]fakePage{"": {markets: []domain.MarketDescriptor{
			market("a", date), market("b", date), market("c", date),
		}}},
		books: map[string]domain.OrderBook{
			"a": {Bids: []domain.PriceLevel{{Price: 0.4, Size: 10}}, Asks: []domain.PriceLevel{{Price: 0.45, Size: 10}}},
			"c": {Bids: []domain.PriceLevel{{Price: 0.5, Size: 10}}},
		},
		tradeErr: errors.New("trades endpoint down"),
	}
	s := NewPolling("kalshi", f, testOptions(), discardLogger())
	sink := newRecordingSink()

	res, err := Cycle(context.Background(), s, sink, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Markets)
	assert.Equal(t, 2, res.OrderBooks)
	assert.Equal(t, 1, res.FailedBooks)
	assert.Equal(t, 3, res.FailedTrades)
	_, ok := sink.book("a")
	assert.True(t, ok)
	_, ok = sink.book("b")
	assert.False(t, ok)
	_, ok = sink.book("c")
	assert.True(t, ok)
}

func TestPolling_Run_StopsOnUnauthorized(t *testing.T) {
	f := &fakeFetcher{marketErr: fmt.Errorf("kalshi: %w", domain.ErrUnauthorized)}
	s := NewPolling("kalshi", f, testOptions(), discardLogger())

	err := s.Run(context.Background(), newRecordingSink(), time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConnectivity)
}

func TestPolling_Run_KeepsGoingOnTransientErrors(t *testing.T) {
	f := &fakeFetcher{marketErr: errors.New("timeout")}
	s := NewPolling("kalshi", f, testOptions(), discardLogger())
	sink := newRecordingSink()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := s.Run(ctx, sink, 5*time.Millisecond)
	assert.NoError(t, err)

	f.mu.Lock()
	calls := f.calls
	f.mu.Unlock()
	assert.Greater(t, calls, 1)
}

func TestNew_Variants(t *testing.T) {
	log := discardLogger()

	s, err := New(Config{Name: "k", Kind: domain.VenueKindPolling, Fetcher: &fakeFetcher{}}, log)
	require.NoError(t, err)
	assert.Equal(t, domain.VenueKindPolling, s.Kind())

	s, err = New(Config{Name: "k", Kind: domain.VenueKindStreaming, Fetcher: &fakeFetcher{}, Dialer: &scriptedDialer{}}, log)
	require.NoError(t, err)
	assert.Equal(t, domain.VenueKindStreaming, s.Kind())

	_, err = New(Config{Name: "k", Kind: domain.VenueKindStreaming, Fetcher: &fakeFetcher{}}, log)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = New(Config{Name: "k", Kind: "carrier"}, log)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
