package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/venuearb/internal/domain"
	"github.com/alanyoungcy/venuearb/internal/ingest"
	"github.com/alanyoungcy/venuearb/internal/store/memory"
)

type fakeIngestion struct {
	running     bool
	startErr    error
	interval    time.Duration
	started     []string
	stops       int
	testErr     error
	testMarkets int
}

func (f *fakeIngestion) Venues() []ingest.VenueInfo {
	return []ingest.VenueInfo{{Name: "kalshi", Kind: domain.VenueKindStreaming}, {Name: "polymarket", Kind: domain.VenueKindPolling}}
}

func (f *fakeIngestion) RunDiscoveryOnce(_ context.Context, venues ...string) map[string]ingest.DiscoveryResult {
	out := map[string]ingest.DiscoveryResult{}
	for _, v := range venues {
		out[v] = ingest.DiscoverySuccess
	}
	return out
}

func (f *fakeIngestion) RunFullIngestionOnce(_ context.Context, venues ...string) map[string]ingest.IngestionCounts {
	out := map[string]ingest.IngestionCounts{}
	for _, v := range venues {
		out[v] = ingest.IngestionCounts{Markets: 1}
	}
	return out
}

func (f *fakeIngestion) StartContinuous(venues []string, interval time.Duration) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started, f.interval, f.running = venues, interval, true
	return nil
}

func (f *fakeIngestion) Stop()         { f.stops++; f.running = false }
func (f *fakeIngestion) Running() bool { return f.running }

func (f *fakeIngestion) LatestStatus() map[string]ingest.VenueStatus {
	return map[string]ingest.VenueStatus{"kalshi": {Venue: "kalshi", Healthy: true}}
}

func (f *fakeIngestion) TestConnection(context.Context, string) (int, error) {
	return f.testMarkets, f.testErr
}

type fakeEvaluator struct {
	signals []domain.Signal
	err     error
	expired int64
}

func (f *fakeEvaluator) EvaluateAllActive(context.Context) ([]domain.Signal, error) {
	return f.signals, f.err
}

func (f *fakeEvaluator) ActiveSignals(context.Context, int, float64) ([]domain.Signal, error) {
	return nil, f.err
}

func (f *fakeEvaluator) CleanupExpired(context.Context) (int64, error) {
	return f.expired, f.err
}

func newControl(ing *fakeIngestion, ev *fakeEvaluator, signals *memory.SignalStore, pairs *memory.PairStore) *Control {
	return NewControl(ing, ev, signals, pairs, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestControl_Ingestion(t *testing.T) {
	ing := &fakeIngestion{}
	c := newControl(ing, &fakeEvaluator{}, memory.NewSignalStore(), memory.NewPairStore())
	ctx := context.Background()

	assert.Equal(t, ingest.DiscoverySuccess, c.RunMarketDiscovery(ctx, []string{"kalshi"})["kalshi"])
	assert.Equal(t, 1, c.IngestAllData(ctx, []string{"polymarket"})["polymarket"].Markets)

	require.NoError(t, c.StartContinuousIngestion([]string{"kalshi"}, 15))
	assert.Equal(t, 15*time.Second, ing.interval)
	st := c.GetIngestionStatus()
	assert.True(t, st.IsRunning)
	assert.True(t, st.Venues["kalshi"].Healthy)

	c.StopContinuousIngestion()
	c.StopContinuousIngestion()
	assert.Equal(t, 2, ing.stops)
	assert.False(t, c.GetIngestionStatus().IsRunning)

	ing.startErr = errors.New("already running")
	assert.ErrorContains(t, c.StartContinuousIngestion(nil, 0), "already running")
}

func TestControl_Evaluate(t *testing.T) {
	ev := &fakeEvaluator{signals: []domain.Signal{{ID: "a", IsArbitrage: true}, {ID: "b"}}}
	c := newControl(&fakeIngestion{}, ev, memory.NewSignalStore(), memory.NewPairStore())

	sum, err := c.EvaluateAllPairs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Evaluated)
	assert.Equal(t, 1, sum.Arbitrage)

	active, err := c.GetActiveSignals(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.NotNil(t, active)
	assert.Empty(t, active)

	ev.expired = 3
	n, err := c.CleanupExpiredSignals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	ev.err = errors.New("store down")
	_, err = c.EvaluateAllPairs(context.Background())
	assert.Error(t, err)
}

func TestControl_StatsAndSignal(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	signals := memory.NewSignalStore()
	require.NoError(t, signals.Append(context.Background(), domain.Signal{
		ID: "s1", IsArbitrage: true, SignalStrength: 0.04, Status: domain.SignalStatusActive,
		CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute),
	}))
	pairs := memory.NewPairStore(domain.MatchedPair{ID: "p1", Status: domain.PairStatusActive, HardOK: true, EquivalenceScore: 0.9})

	c := newControl(&fakeIngestion{}, &fakeEvaluator{}, signals, pairs)
	c.now = func() time.Time { return now }

	st, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Signals.Total)
	assert.Equal(t, int64(1), st.Signals.ArbitrageOpportunities)
	assert.Equal(t, int64(1), st.Pairs.Active)

	sig, err := c.GetSignal(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", sig.ID)
	_, err = c.GetSignal(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestControl_TestConnection(t *testing.T) {
	ing := &fakeIngestion{testMarkets: 42}
	c := newControl(ing, &fakeEvaluator{}, memory.NewSignalStore(), memory.NewPairStore())

	res, err := c.TestConnection(context.Background(), "kalshi")
	require.NoError(t, err)
	assert.True(t, res.Connected)
	assert.Equal(t, 42, res.Markets)

	ing.testErr = errors.New("401")
	res, err = c.TestConnection(context.Background(), "kalshi")
	require.NoError(t, err)
	assert.False(t, res.Connected)
	assert.Equal(t, "401", res.Error)

	_, err = c.TestConnection(context.Background(), "gemini")
	assert.ErrorIs(t, err, ErrUnknownVenue)
}
