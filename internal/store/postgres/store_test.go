package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/arb?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "arb", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
	assert.Equal(t, "postgres://u:p@db:6543/arb?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, Database: "arb", User: "u", Password: "p", SSLMode: "require"}))
}

func TestMarketStore_UpsertGetStatus(t *testing.T) {
	client, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMarketStore(client.Pool())
	ctx := context.Background()
	res := time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC)

	markets := []domain.MarketDescriptor{
		{Venue: "kalshi", ID: "PRES-24", Title: "Election", Status: domain.MarketStatusActive,
			ResolutionDate: ptr(res), Outcomes: []domain.Outcome{{Name: "Yes"}, {Name: "No"}}},
		{Venue: "kalshi", ID: "FED-25", Title: "Fed", Status: domain.MarketStatusActive},
	}
	require.NoError(t, store.UpsertBatch(ctx, markets))

	got, err := store.Get(ctx, domain.MarketRef{Venue: "kalshi", MarketID: "PRES-24"})
	require.NoError(t, err)
	assert.Equal(t, "Election", got.Title)
	require.NotNil(t, got.ResolutionDate)
	assert.True(t, res.Equal(*got.ResolutionDate))
	assert.Equal(t, []domain.Outcome{{Name: "Yes"}, {Name: "No"}}, got.Outcomes)

	markets[0].Title = "Election (updated)"
	require.NoError(t, store.UpsertBatch(ctx, markets[:1]))
	n, err := store.Count(ctx, "kalshi")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, store.SetStatus(ctx, domain.MarketRef{Venue: "kalshi", MarketID: "FED-25"}, domain.MarketStatusClosed))
	active, err := store.ListActive(ctx, "kalshi")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Election (updated)", active[0].Title)

	err = store.SetStatus(ctx, domain.MarketRef{Venue: "kalshi", MarketID: "missing"}, domain.MarketStatusClosed)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.Get(ctx, domain.MarketRef{Venue: "kalshi", MarketID: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBookStore_ReplaceAndSnapshot(t *testing.T) {
	client, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBookStore(client.Pool())
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	_, err := store.Levels(ctx, "polymarket", "m1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	var bids []domain.PriceLevel
	for i := 0; i < 12; i++ {
		bids = append(bids, domain.PriceLevel{Price: 0.30 + float64(i)*0.01, Size: 10})
	}
	book := domain.OrderBook{
		Bids: bids,
		Asks: []domain.PriceLevel{{Price: 0.50, Size: 5}, {Price: 0.45, Size: 7}},
	}
	require.NoError(t, store.ReplaceBook(ctx, "polymarket", "m1", book, now))

	levels, err := store.Levels(ctx, "polymarket", "m1")
	require.NoError(t, err)
	require.Len(t, levels, 12)
	assert.Equal(t, domain.SideBid, levels[0].Side)
	assert.InDelta(t, 0.41, levels[0].Price, 1e-9)
	assert.Equal(t, domain.SideAsk, levels[10].Side)
	assert.InDelta(t, 0.45, levels[10].Price, 1e-9)

	snap, err := store.Snapshot(ctx, "polymarket", "m1", time.Minute, now.Add(10*time.Second))
	require.NoError(t, err)
	require.NotNil(t, snap.Bid)
	require.NotNil(t, snap.Ask)
	assert.InDelta(t, 0.41, snap.Bid.Price, 1e-9)
	assert.InDelta(t, 0.45, snap.Ask.Price, 1e-9)
	assert.False(t, snap.IsStale)

	// Replacing with an empty book keeps the market known with no levels.
	require.NoError(t, store.ReplaceBook(ctx, "polymarket", "m1", domain.OrderBook{}, now.Add(time.Second)))
	levels, err = store.Levels(ctx, "polymarket", "m1")
	require.NoError(t, err)
	assert.Empty(t, levels)

	n, err := store.CountBooks(ctx, "polymarket")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTradeStore_Dedupe(t *testing.T) {
	client, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTradeStore(client.Pool())
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	trades := []domain.Trade{
		{Venue: "kalshi", MarketID: "m", TradeID: "t1", Price: 0.4, Size: 1, ExecutedAt: base},
		{Venue: "kalshi", MarketID: "m", TradeID: "t2", Price: 0.5, Size: 2, ExecutedAt: base.Add(time.Minute)},
	}
	n, err := store.InsertBatch(ctx, trades)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.InsertBatch(ctx, append(trades, domain.Trade{
		Venue: "kalshi", MarketID: "m", TradeID: "t3", Price: 0.6, Size: 3, ExecutedAt: base.Add(2 * time.Minute),
	}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.ListByMarket(ctx, domain.MarketRef{Venue: "kalshi", MarketID: "m"}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t3", got[0].TradeID)
	assert.Equal(t, "t2", got[1].TradeID)
}

func TestPairStore_Eligibility(t *testing.T) {
	client, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPairStore(client.Pool())
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mk := func(id string, score float64, hard bool, status domain.PairStatus, offset time.Duration) domain.MatchedPair {
		return domain.MatchedPair{
			ID:               id,
			MarketA:          domain.MarketRef{Venue: "kalshi", MarketID: id + "-a"},
			MarketB:          domain.MarketRef{Venue: "polymarket", MarketID: id + "-b"},
			EquivalenceScore: score,
			HardOK:           hard,
			Status:           status,
			CreatedAt:        base.Add(offset),
		}
	}
	for _, p := range []domain.MatchedPair{
		mk("p2", 0.9, true, domain.PairStatusActive, 2*time.Hour),
		mk("p1", 0.7, true, domain.PairStatusActive, time.Hour),
		mk("low", 0.69, true, domain.PairStatusActive, 0),
		mk("soft", 0.95, false, domain.PairStatusActive, 0),
		mk("off", 0.95, true, domain.PairStatusInactive, 0),
	} {
		require.NoError(t, store.Upsert(ctx, p))
	}

	eligible, err := store.ListEligible(ctx)
	require.NoError(t, err)
	require.Len(t, eligible, 2)
	assert.Equal(t, "p1", eligible[0].ID)
	assert.Equal(t, "p2", eligible[1].ID)
	assert.Equal(t, "kalshi", eligible[0].MarketA.Venue)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PairStats{Total: 5, Active: 4}, stats)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testSignal(id string, strength, conf float64, arb bool, created, expires time.Time) domain.Signal {
	return domain.Signal{
		ID:             id,
		PairID:         "pair-1",
		MarketA:        domain.MarketRef{Venue: "kalshi", MarketID: "A"},
		MarketB:        domain.MarketRef{Venue: "polymarket", MarketID: "B"},
		Strategy:       domain.StrategyBuyASellB,
		DirectionA:     domain.DirectionBuy,
		DirectionB:     domain.DirectionSell,
		TotalCost:      0.95,
		EdgeBuffer:     0.02,
		IsArbitrage:    arb,
		ExecutableSize: 100,
		QuoteA:         domain.LegQuote{Venue: "kalshi", BestBid: 0.42, BestAsk: 0.44, BidSize: 100, AskSize: 100},
		QuoteB:         domain.LegQuote{Venue: "polymarket", BestBid: 0.48, BestAsk: 0.52, BidSize: 100, AskSize: 100},
		SignalStrength: strength,
		Confidence:     conf,
		Status:         domain.SignalStatusActive,
		ExpiresAt:      expires,
		CreatedAt:      created,
		Metadata:       map[string]any{"spread_a": 0.02},
	}
}

func TestSignalStore_Lifecycle(t *testing.T) {
	client, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSignalStore(client.Pool())
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(ctx, testSignal("s1", 0.05, 0.8, true, now.Add(-2*time.Minute), now.Add(3*time.Minute))))
	require.NoError(t, store.Append(ctx, testSignal("s2", 0.09, 0.6, true, now.Add(-time.Minute), now.Add(4*time.Minute))))
	require.NoError(t, store.Append(ctx, testSignal("s3", 0.00, 0.9, false, now.Add(-time.Minute), now.Add(4*time.Minute))))
	require.NoError(t, store.Append(ctx, testSignal("old", 0.07, 0.9, true, now.Add(-10*time.Minute), now.Add(-5*time.Minute))))
	assert.Error(t, store.Append(ctx, testSignal("s1", 0.05, 0.8, true, now, now)))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyBuyASellB, got.Strategy)
	assert.Equal(t, "kalshi", got.QuoteA.Venue)
	assert.InDelta(t, 0.02, got.Metadata["spread_a"], 1e-9)

	active, err := store.QueryActive(ctx, domain.ActiveQuery{Now: now, Limit: 10})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "s2", active[0].ID)
	assert.Equal(t, "s1", active[1].ID)

	active, err = store.QueryActive(ctx, domain.ActiveQuery{Now: now, Limit: 10, MinConfidence: 0.7})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "s1", active[0].ID)

	active, err = store.QueryActive(ctx, domain.ActiveQuery{Now: now})
	require.NoError(t, err)
	assert.Len(t, active, 2, "no limit")

	active, err = store.QueryActive(ctx, domain.ActiveQuery{Now: now, Limit: 1})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "s2", active[0].ID)

	stats, err := store.Stats(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(3), stats.Active)
	assert.Equal(t, int64(2), stats.ArbitrageOpportunities)
	assert.InDelta(t, (0.05+0.09+0.07)/3, stats.AverageStrength, 1e-9)

	n, err := store.MarkExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = store.MarkExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	window, err := store.ListCreatedBetween(ctx, now.Add(-3*time.Minute), now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "s1", window[0].ID)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHealthStore_UpsertList(t *testing.T) {
	client, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewHealthStore(client.Pool())
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Upsert(ctx, domain.VenueHealth{Venue: "polymarket", Healthy: true, MarketCount: 3, UpdatedAt: now}))
	require.NoError(t, store.Upsert(ctx, domain.VenueHealth{Venue: "kalshi", LastError: "boom", UpdatedAt: now}))
	require.NoError(t, store.Upsert(ctx, domain.VenueHealth{Venue: "kalshi", Healthy: true, LastSuccess: ptr(now), UpdatedAt: now}))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "kalshi", list[0].Venue)
	assert.True(t, list[0].Healthy)
	assert.Empty(t, list[0].LastError)
	require.NotNil(t, list[0].LastSuccess)
	assert.Equal(t, int64(3), list[1].MarketCount)
}
