package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/venuearb/internal/ingest"
	"github.com/alanyoungcy/venuearb/internal/service"
)

// IngestionController is the control surface the ingestion routes call.
type IngestionController interface {
	Venues() []ingest.VenueInfo
	RunMarketDiscovery(ctx context.Context, venues []string) map[string]ingest.DiscoveryResult
	IngestAllData(ctx context.Context, venues []string) map[string]ingest.IngestionCounts
	StartContinuousIngestion(venues []string, intervalSeconds int) error
	StopContinuousIngestion()
	GetIngestionStatus() service.IngestionStatus
	TestConnection(ctx context.Context, venue string) (service.ConnectionTest, error)
}

// IngestionHandler serves /api/ingestion.
type IngestionHandler struct {
	ctl    IngestionController
	logger *slog.Logger
}

// NewIngestionHandler creates an IngestionHandler.
func NewIngestionHandler(ctl IngestionController, logger *slog.Logger) *IngestionHandler {
	return &IngestionHandler{ctl: ctl, logger: logHandler(logger, "ingestion")}
}

// ListVenues returns the registered venue sessions.
// GET /api/ingestion/venues
func (h *IngestionHandler) ListVenues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"venues": h.ctl.Venues()})
}

// Discover runs market discovery once.
// POST /api/ingestion/discover?venues=kalshi,polymarket
func (h *IngestionHandler) Discover(w http.ResponseWriter, r *http.Request) {
	results := h.ctl.RunMarketDiscovery(r.Context(), parseVenues(r))
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// Ingest runs one full acquisition cycle.
// POST /api/ingestion/ingest?venues=kalshi
func (h *IngestionHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	results := h.ctl.IngestAllData(r.Context(), parseVenues(r))
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// Start starts continuous ingestion.
// POST /api/ingestion/start?venues=kalshi&interval=60
func (h *IngestionHandler) Start(w http.ResponseWriter, r *http.Request) {
	interval, err := queryInt(r, "interval", 0)
	if err != nil || interval < 0 {
		writeError(w, http.StatusBadRequest, "interval must be a non-negative integer")
		return
	}
	venues := parseVenues(r)
	if err := h.ctl.StartContinuousIngestion(venues, interval); err != nil {
		h.logger.Warn("start ingestion rejected", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":           "started",
		"venues":           venues,
		"interval_seconds": interval,
	})
}

// Stop stops continuous ingestion.
// POST /api/ingestion/stop
func (h *IngestionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.ctl.StopContinuousIngestion()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// Status reports loop state and per-venue health.
// GET /api/ingestion/status
func (h *IngestionHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.GetIngestionStatus())
}

// TestConnection probes one venue.
// POST /api/ingestion/test/{venue}
func (h *IngestionHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	res, err := h.ctl.TestConnection(r.Context(), r.PathValue("venue"))
	if errors.Is(err, service.ErrUnknownVenue) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}
