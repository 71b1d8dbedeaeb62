package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

func TestBookStore_ReplaceAndRead(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()
	ctx := context.Background()
	store := NewBookStore(client)

	_, err := store.Levels(ctx, "kalshi", "PRES")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	book := domain.OrderBook{
		Bids: []domain.PriceLevel{{Price: 0.44, Size: 5}, {Price: 0.45, Size: 120}},
		Asks: []domain.PriceLevel{{Price: 0.47, Size: 30}},
	}
	require.NoError(t, store.ReplaceBook(ctx, "kalshi", "PRES", book, at))

	rows, err := store.Levels(ctx, "kalshi", "PRES")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 0.45, rows[0].Price)
	assert.Equal(t, 120.0, rows[0].Size)
	assert.Equal(t, 1, rows[0].Rank)
	assert.Equal(t, domain.SideAsk, rows[2].Side)
	assert.Equal(t, at, rows[2].CapturedAt)

	// A replacement drops levels absent from the new book.
	require.NoError(t, store.ReplaceBook(ctx, "kalshi", "PRES", domain.OrderBook{
		Bids: []domain.PriceLevel{{Price: 0.40, Size: 1}},
	}, at.Add(time.Second)))
	rows, err = store.Levels(ctx, "kalshi", "PRES")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 0.40, rows[0].Price)

	snap, err := store.Snapshot(ctx, "kalshi", "PRES", 30*time.Second, at.Add(2*time.Second))
	require.NoError(t, err)
	require.NotNil(t, snap.Bid)
	assert.Equal(t, 0.40, snap.Bid.Price)
	assert.Nil(t, snap.Ask)
	assert.False(t, snap.IsStale)

	n, err := store.CountBooks(ctx, "kalshi")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// Readers racing a writer must only ever see one whole book: every level of
// book k has price and size derived from k.
func TestBookStore_ReadsNeverMixBooks(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()
	ctx := context.Background()
	store := NewBookStore(client)

	bookFor := func(k int) domain.OrderBook {
		var b domain.OrderBook
		for i := 0; i < 5; i++ {
			b.Bids = append(b.Bids, domain.PriceLevel{Price: float64(100*k+i) / 10000, Size: float64(k)})
		}
		return b
	}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.ReplaceBook(ctx, "kalshi", "RACE", bookFor(1), base.Add(time.Second)))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for k := 2; k < 200; k++ {
			_ = store.ReplaceBook(ctx, "kalshi", "RACE", bookFor(k), base.Add(time.Duration(k)*time.Second))
		}
	}()

	for i := 0; i < 200; i++ {
		rows, err := store.Levels(ctx, "kalshi", "RACE")
		require.NoError(t, err)
		require.Len(t, rows, 5)
		k := rows[0].Size
		for _, r := range rows {
			assert.Equal(t, k, r.Size, fmt.Sprintf("read %d", i))
			assert.Equal(t, base.Add(time.Duration(k)*time.Second), r.CapturedAt)
		}
	}
	wg.Wait()
}

func TestLockManager_Acquire(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()
	ctx := context.Background()
	lm := NewLockManager(client)

	unlock, err := lm.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "sweep", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	again, err := lm.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	again()
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()
	ctx := context.Background()
	rl := NewRateLimiter(client)

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "api:10.0.0.1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "api:10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "api:10.0.0.2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")
}

func TestSignalBus_PublishAndStream(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewSignalBus(client)

	ch, err := bus.Subscribe(ctx, domain.ChannelSignals)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, domain.ChannelSignals, []byte(`{"id":"s1"}`)))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"id":"s1"}`, string(msg))
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}

	msgs, err := bus.StreamRead(ctx, "venuearb:test:stream", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, bus.StreamAppend(ctx, "venuearb:test:stream", []byte("a")))
	require.NoError(t, bus.StreamAppend(ctx, "venuearb:test:stream", []byte("b")))
	msgs, err = bus.StreamRead(ctx, "venuearb:test:stream", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("a"), msgs[0].Payload)

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{})
	assert.Error(t, err)
}
