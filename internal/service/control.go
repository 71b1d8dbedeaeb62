// Package service exposes the operator control surface over ingestion and
// the arbitrage engine.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
	"github.com/alanyoungcy/venuearb/internal/ingest"
)

// Ingestion is the coordinator surface Control drives.
type Ingestion interface {
	Venues() []ingest.VenueInfo
	RunDiscoveryOnce(ctx context.Context, venues ...string) map[string]ingest.DiscoveryResult
	RunFullIngestionOnce(ctx context.Context, venues ...string) map[string]ingest.IngestionCounts
	StartContinuous(venues []string, interval time.Duration) error
	Stop()
	Running() bool
	LatestStatus() map[string]ingest.VenueStatus
	TestConnection(ctx context.Context, venue string) (int, error)
}

// Evaluator is the engine surface Control drives.
type Evaluator interface {
	EvaluateAllActive(ctx context.Context) ([]domain.Signal, error)
	ActiveSignals(ctx context.Context, limit int, minConfidence float64) ([]domain.Signal, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

// IngestionStatus is the reply of GetIngestionStatus.
type IngestionStatus struct {
	IsRunning bool                          `json:"is_running"`
	Venues    map[string]ingest.VenueStatus `json:"venues"`
}

// EvaluationSummary is the reply of EvaluateAllPairs.
type EvaluationSummary struct {
	Evaluated int             `json:"evaluated"`
	Arbitrage int             `json:"arbitrage_opportunities"`
	Signals   []domain.Signal `json:"signals"`
}

// Stats combines signal and pair statistics.
type Stats struct {
	Signals domain.SignalStats `json:"signals"`
	Pairs   domain.PairStats   `json:"pairs"`
}

// ConnectionTest is the reply of TestConnection.
type ConnectionTest struct {
	Venue     string `json:"venue"`
	Connected bool   `json:"connected"`
	Markets   int    `json:"markets"`
	Error     string `json:"error,omitempty"`
}

// ErrUnknownVenue is returned for operations naming an unregistered venue.
var ErrUnknownVenue = errors.New("unknown venue")

// Control implements the operator operations.
type Control struct {
	ingestion Ingestion
	engine    Evaluator
	signals   domain.SignalStore
	pairs     domain.PairStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewControl creates a Control.
func NewControl(ingestion Ingestion, engine Evaluator, signals domain.SignalStore, pairs domain.PairStore, logger *slog.Logger) *Control {
	return &Control{
		ingestion: ingestion,
		engine:    engine,
		signals:   signals,
		pairs:     pairs,
		logger:    logger.With(slog.String("component", "control")),
		now:       time.Now,
	}
}

// Venues lists the registered venue sessions.
func (c *Control) Venues() []ingest.VenueInfo {
	return c.ingestion.Venues()
}

// RunMarketDiscovery acquires markets once on the named venues (all when
// empty).
func (c *Control) RunMarketDiscovery(ctx context.Context, venues []string) map[string]ingest.DiscoveryResult {
	c.logger.InfoContext(ctx, "market discovery requested", slog.Any("venues", venues))
	return c.ingestion.RunDiscoveryOnce(ctx, venues...)
}

// IngestAllData runs one full acquisition cycle on the named venues.
func (c *Control) IngestAllData(ctx context.Context, venues []string) map[string]ingest.IngestionCounts {
	c.logger.InfoContext(ctx, "full ingestion requested", slog.Any("venues", venues))
	return c.ingestion.RunFullIngestionOnce(ctx, venues...)
}

// StartContinuousIngestion starts per-venue loops. A non-positive interval
// uses the configured default.
func (c *Control) StartContinuousIngestion(venues []string, intervalSeconds int) error {
	interval := time.Duration(intervalSeconds) * time.Second
	if err := c.ingestion.StartContinuous(venues, interval); err != nil {
		return fmt.Errorf("service: start continuous ingestion: %w", err)
	}
	c.logger.Info("continuous ingestion started",
		slog.Any("venues", venues),
		slog.Int("interval_seconds", intervalSeconds),
	)
	return nil
}

// StopContinuousIngestion stops every loop. Stopping twice is a no-op.
func (c *Control) StopContinuousIngestion() {
	c.ingestion.Stop()
}

// GetIngestionStatus reports the loop state and per-venue health.
func (c *Control) GetIngestionStatus() IngestionStatus {
	return IngestionStatus{
		IsRunning: c.ingestion.Running(),
		Venues:    c.ingestion.LatestStatus(),
	}
}

// EvaluateAllPairs runs one evaluation sweep over the eligible pairs.
func (c *Control) EvaluateAllPairs(ctx context.Context) (EvaluationSummary, error) {
	signals, err := c.engine.EvaluateAllActive(ctx)
	if err != nil {
		return EvaluationSummary{}, fmt.Errorf("service: evaluate all pairs: %w", err)
	}
	sum := EvaluationSummary{Evaluated: len(signals), Signals: signals}
	for _, s := range signals {
		if s.IsArbitrage {
			sum.Arbitrage++
		}
	}
	if sum.Signals == nil {
		sum.Signals = []domain.Signal{}
	}
	return sum, nil
}

// GetActiveSignals returns live arbitrage signals, strongest first.
func (c *Control) GetActiveSignals(ctx context.Context, limit int, minConfidence float64) ([]domain.Signal, error) {
	signals, err := c.engine.ActiveSignals(ctx, limit, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("service: active signals: %w", err)
	}
	if signals == nil {
		signals = []domain.Signal{}
	}
	return signals, nil
}

// GetSignal returns one signal by id.
func (c *Control) GetSignal(ctx context.Context, id string) (domain.Signal, error) {
	return c.signals.Get(ctx, id)
}

// CleanupExpiredSignals expires signals past their expiry and returns how
// many changed.
func (c *Control) CleanupExpiredSignals(ctx context.Context) (int64, error) {
	n, err := c.engine.CleanupExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("service: cleanup expired signals: %w", err)
	}
	return n, nil
}

// Stats aggregates signal and pair statistics.
func (c *Control) Stats(ctx context.Context) (Stats, error) {
	sigStats, err := c.signals.Stats(ctx, c.now())
	if err != nil {
		return Stats{}, fmt.Errorf("service: signal stats: %w", err)
	}
	pairStats, err := c.pairs.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("service: pair stats: %w", err)
	}
	return Stats{Signals: sigStats, Pairs: pairStats}, nil
}

// TestConnection checks that the venue answers a market listing.
func (c *Control) TestConnection(ctx context.Context, venue string) (ConnectionTest, error) {
	known := false
	for _, v := range c.ingestion.Venues() {
		if v.Name == venue {
			known = true
			break
		}
	}
	if !known {
		return ConnectionTest{}, fmt.Errorf("service: test connection %q: %w", venue, ErrUnknownVenue)
	}

	res := ConnectionTest{Venue: venue}
	n, err := c.ingestion.TestConnection(ctx, venue)
	if err != nil {
		res.Error = err.Error()
		c.logger.WarnContext(ctx, "connection test failed", slog.String("venue", venue), slog.String("error", err.Error()))
		return res, nil
	}
	res.Connected = true
	res.Markets = n
	return res, nil
}
