package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	r := New(nil)

	r.RecordIngested("kalshi", "market", 3)
	r.RecordIngested("kalshi", "market", 0)
	r.SetVenueHealthy("kalshi", false)
	r.RecordHTTP("GET /api/health", "GET", "200", 0.01)

	assert.InDelta(t, 3, testutil.ToFloat64(r.ingested.WithLabelValues("kalshi", "market")), 1e-9)
	assert.InDelta(t, 0, testutil.ToFloat64(r.venueHealthy.WithLabelValues("kalshi")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(r.httpRequests.WithLabelValues("GET /api/health", "GET", "200")), 1e-9)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "venuearb_ingested_total")
}
