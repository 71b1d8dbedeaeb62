package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/venuearb/internal/domain"
	"github.com/alanyoungcy/venuearb/internal/service"
)

const (
	defaultSignalLimit = 50
	maxSignalLimit     = 500
)

// ArbitrageController is the control surface the arbitrage routes call.
type ArbitrageController interface {
	EvaluateAllPairs(ctx context.Context) (service.EvaluationSummary, error)
	GetActiveSignals(ctx context.Context, limit int, minConfidence float64) ([]domain.Signal, error)
	GetSignal(ctx context.Context, id string) (domain.Signal, error)
	CleanupExpiredSignals(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (service.Stats, error)
}

// ArbitrageHandler serves /api/arbitrage.
type ArbitrageHandler struct {
	ctl    ArbitrageController
	logger *slog.Logger
}

// NewArbitrageHandler creates an ArbitrageHandler.
func NewArbitrageHandler(ctl ArbitrageController, logger *slog.Logger) *ArbitrageHandler {
	return &ArbitrageHandler{ctl: ctl, logger: logHandler(logger, "arbitrage")}
}

// Evaluate runs one evaluation sweep.
// POST /api/arbitrage/evaluate
func (h *ArbitrageHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	sum, err := h.ctl.EvaluateAllPairs(r.Context())
	if err != nil {
		h.logger.Error("evaluate failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// ListSignals returns live arbitrage signals.
// GET /api/arbitrage/signals?limit=50&min_confidence=0.5
func (h *ArbitrageHandler) ListSignals(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultSignalLimit)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	limit = min(limit, maxSignalLimit)

	minConfidence, err := queryFloat(r, "min_confidence", 0)
	if err != nil || minConfidence < 0 || minConfidence > 1 {
		writeError(w, http.StatusBadRequest, "min_confidence must be between 0 and 1")
		return
	}

	signals, err := h.ctl.GetActiveSignals(r.Context(), limit, minConfidence)
	if err != nil {
		h.logger.Error("list signals failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list signals")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"signals": signals,
		"count":   len(signals),
	})
}

// GetSignal returns one signal.
// GET /api/arbitrage/signals/{id}
func (h *ArbitrageHandler) GetSignal(w http.ResponseWriter, r *http.Request) {
	sig, err := h.ctl.GetSignal(r.Context(), r.PathValue("id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "signal not found")
		return
	}
	if err != nil {
		h.logger.Error("get signal failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to get signal")
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

// Cleanup expires signals past their expiry.
// POST /api/arbitrage/cleanup
func (h *ArbitrageHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	n, err := h.ctl.CleanupExpiredSignals(r.Context())
	if err != nil {
		h.logger.Error("cleanup failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"expired": n})
}

// Stats returns signal and pair statistics.
// GET /api/arbitrage/stats
func (h *ArbitrageHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ctl.Stats(r.Context())
	if err != nil {
		h.logger.Error("stats failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
