package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/venuearb/internal/domain"
	"github.com/alanyoungcy/venuearb/internal/ingest"
	"github.com/alanyoungcy/venuearb/internal/server/handler"
	"github.com/alanyoungcy/venuearb/internal/service"
	"github.com/alanyoungcy/venuearb/internal/store/memory"
)

type fakeControl struct {
	started     []string
	interval    int
	stopped     bool
	limit       int
	minConf     float64
	discoverArg []string
}

func (f *fakeControl) Venues() []ingest.VenueInfo {
	return []ingest.VenueInfo{{Name: "kalshi", Kind: domain.VenueKindPolling}}
}

func (f *fakeControl) RunMarketDiscovery(_ context.Context, venues []string) map[string]ingest.DiscoveryResult {
	f.discoverArg = venues
	out := map[string]ingest.DiscoveryResult{}
	for _, v := range venues {
		if v == "kalshi" {
			out[v] = ingest.DiscoverySuccess
		} else {
			out[v] = ingest.DiscoveryUnavailable
		}
	}
	return out
}

func (f *fakeControl) IngestAllData(context.Context, []string) map[string]ingest.IngestionCounts {
	return map[string]ingest.IngestionCounts{"kalshi": {Markets: 3, OrderBooks: 2, Trades: 5}}
}

func (f *fakeControl) StartContinuousIngestion(venues []string, interval int) error {
	if len(venues) == 1 && venues[0] == "nope" {
		return errors.New("no available venues")
	}
	f.started, f.interval = venues, interval
	return nil
}

func (f *fakeControl) StopContinuousIngestion() { f.stopped = true }

func (f *fakeControl) GetIngestionStatus() service.IngestionStatus {
	return service.IngestionStatus{IsRunning: true, Venues: map[string]ingest.VenueStatus{}}
}

func (f *fakeControl) TestConnection(_ context.Context, venue string) (service.ConnectionTest, error) {
	if venue != "kalshi" {
		return service.ConnectionTest{}, fmt.Errorf("test %q: %w", venue, service.ErrUnknownVenue)
	}
	return service.ConnectionTest{Venue: venue, Connected: true, Markets: 7}, nil
}

func (f *fakeControl) EvaluateAllPairs(context.Context) (service.EvaluationSummary, error) {
	return service.EvaluationSummary{Evaluated: 2, Arbitrage: 1, Signals: []domain.Signal{{ID: "s1", IsArbitrage: true}}}, nil
}

func (f *fakeControl) GetActiveSignals(_ context.Context, limit int, minConf float64) ([]domain.Signal, error) {
	f.limit, f.minConf = limit, minConf
	return []domain.Signal{{ID: "s1"}}, nil
}

func (f *fakeControl) GetSignal(_ context.Context, id string) (domain.Signal, error) {
	if id != "s1" {
		return domain.Signal{}, domain.ErrNotFound
	}
	return domain.Signal{ID: "s1"}, nil
}

func (f *fakeControl) CleanupExpiredSignals(context.Context) (int64, error) { return 4, nil }

func (f *fakeControl) Stats(context.Context) (service.Stats, error) {
	return service.Stats{Signals: domain.SignalStats{Total: 9}}, nil
}

func newTestServer(t *testing.T, cfg Config) (*fakeControl, http.Handler) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctl := &fakeControl{}
	srv := NewServer(cfg, Handlers{
		Health:    handler.NewHealthHandler(),
		Ingestion: handler.NewIngestionHandler(ctl, logger),
		Arbitrage: handler.NewArbitrageHandler(ctl, logger),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "# metrics\n")
		}),
	}, nil, memory.NewRateLimiter(), nil, logger)
	return ctl, srv.Handler()
}

func do(t *testing.T, h http.Handler, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestServer_IngestionRoutes(t *testing.T) {
	ctl, h := newTestServer(t, Config{})

	rec, body := do(t, h, http.MethodPost, "/api/ingestion/discover?venues=kalshi,%20other")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"kalshi", "other"}, ctl.discoverArg)
	assert.Equal(t, map[string]any{"kalshi": 1.0, "other": -1.0}, body["results"])

	rec, _ = do(t, h, http.MethodPost, "/api/ingestion/start?venues=kalshi&interval=15")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"kalshi"}, ctl.started)
	assert.Equal(t, 15, ctl.interval)

	rec, _ = do(t, h, http.MethodPost, "/api/ingestion/start?interval=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/ingestion/start?venues=nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/ingestion/stop")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ctl.stopped)

	rec, body = do(t, h, http.MethodGet, "/api/ingestion/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["is_running"])

	rec, body = do(t, h, http.MethodPost, "/api/ingestion/test/kalshi")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7.0, body["markets"])

	rec, _ = do(t, h, http.MethodPost, "/api/ingestion/test/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/ingestion/discover")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_ArbitrageRoutes(t *testing.T) {
	ctl, h := newTestServer(t, Config{})

	rec, body := do(t, h, http.MethodPost, "/api/arbitrage/evaluate")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, body["arbitrage_opportunities"])

	rec, body = do(t, h, http.MethodGet, "/api/arbitrage/signals")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, body["count"])
	assert.Equal(t, 50, ctl.limit)

	rec, _ = do(t, h, http.MethodGet, "/api/arbitrage/signals?limit=9999&min_confidence=0.8")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, ctl.limit)
	assert.InDelta(t, 0.8, ctl.minConf, 1e-9)

	rec, _ = do(t, h, http.MethodGet, "/api/arbitrage/signals?min_confidence=2")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/arbitrage/signals/s1")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, h, http.MethodGet, "/api/arbitrage/signals/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = do(t, h, http.MethodPost, "/api/arbitrage/cleanup")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4.0, body["expired"])

	rec, _ = do(t, h, http.MethodGet, "/api/arbitrage/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_AuthAndExemptions(t *testing.T) {
	_, h := newTestServer(t, Config{APIKey: "k"})

	rec, _ := do(t, h, http.MethodGet, "/api/arbitrage/stats")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := do(t, h, http.MethodGet, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, _ = do(t, h, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# metrics")
}

func TestServer_RateLimit(t *testing.T) {
	_, h := newTestServer(t, Config{RateLimitPerMinute: 2})

	for i := 0; i < 2; i++ {
		rec, _ := do(t, h, http.MethodGet, "/api/arbitrage/stats")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/arbitrage/stats", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

