package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/venuearb/internal/arbitrage"
	"github.com/alanyoungcy/venuearb/internal/ingest"
	"github.com/alanyoungcy/venuearb/internal/pipeline"
	"github.com/alanyoungcy/venuearb/internal/server"
	"github.com/alanyoungcy/venuearb/internal/server/handler"
	"github.com/alanyoungcy/venuearb/internal/server/ws"
	"github.com/alanyoungcy/venuearb/internal/service"
)

const shutdownTimeout = 5 * time.Second

// components are the long-lived services every mode draws from.
type components struct {
	deps        *Dependencies
	coordinator *ingest.Coordinator
	engine      *arbitrage.Engine
	control     *service.Control
	scheduler   *pipeline.Scheduler
}

func (a *App) build(deps *Dependencies) *components {
	writer := ingest.NewWriter(ingest.Stores{
		Markets: deps.Markets,
		Books:   deps.Books,
		Trades:  deps.Trades,
		Health:  deps.Health,
	}, deps.Metrics, a.logger)

	coord := ingest.NewCoordinator(deps.Sessions, writer, ingest.Config{
		Interval:           a.cfg.Ingestion.Interval.Duration,
		ConnectTestTimeout: a.cfg.Ingestion.ConnectTestTO.Duration,
	}, a.logger)

	ac := a.cfg.Arbitrage
	engine := arbitrage.NewEngine(arbitrage.Config{
		StalenessThreshold: ac.StalenessThreshold.Duration,
		MinEdgeBuffer:      ac.MinEdgeBuffer,
		MinExecutableSize:  ac.MinExecutableSize,
		MaxSlippage:        ac.MaxSlippage,
		FeeRates:           ac.VenueFeeRates,
		DefaultFeeRate:     ac.DefaultFeeRate,
		SignalExpiry:       ac.SignalExpiry.Duration,
		Workers:            ac.Workers,
	}, arbitrage.Deps{
		Pairs:   deps.Pairs,
		Books:   deps.Books,
		Signals: deps.Signals,
		Bus:     deps.SignalBus,
		Metrics: deps.Metrics,
	}, a.logger)

	var archiver *pipeline.Archiver
	archiveCron := ""
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, a.logger)
		archiveCron = a.cfg.Pipeline.ArchiveCron
	}
	pc := a.cfg.Pipeline
	scheduler := pipeline.NewScheduler(engine, deps.LockManager, archiver, pipeline.SchedulerConfig{
		EvaluationInterval: pc.EvaluationInterval.Duration,
		ExpiryInterval:     pc.ExpiryInterval.Duration,
		LockTTL:            pc.SweepLockTTL.Duration,
		ArchiveCron:        archiveCron,
	}, a.logger)

	return &components{
		deps:        deps,
		coordinator: coord,
		engine:      engine,
		control:     service.NewControl(coord, engine, deps.Signals, deps.Pairs, a.logger),
		scheduler:   scheduler,
	}
}

// IngestMode discovers markets once, then runs the continuous venue loops
// until the context is cancelled.
func (a *App) IngestMode(ctx context.Context, c *components) error {
	a.logger.InfoContext(ctx, "starting ingest mode")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runIngestion(ctx, c, true)
	})
	return g.Wait()
}

// EvaluateMode runs the scheduled evaluation, expiry and archive sweeps.
func (a *App) EvaluateMode(ctx context.Context, c *components) error {
	a.logger.InfoContext(ctx, "starting evaluate mode")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.scheduler.Run(ctx)
	})
	return g.Wait()
}

// ServerMode serves the control API only. Ingestion and evaluation are
// started on demand through it.
func (a *App) ServerMode(ctx context.Context, c *components) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, c)
	err := g.Wait()
	c.coordinator.Stop()
	return err
}

// FullMode runs ingestion, the sweeps and, when enabled, the control API.
func (a *App) FullMode(ctx context.Context, c *components) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Ingestion.AutoStart {
		g.Go(func() error {
			return a.runIngestion(ctx, c, false)
		})
	}
	g.Go(func() error {
		return c.scheduler.Run(ctx)
	})
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, c)
	}

	err := g.Wait()
	c.coordinator.Stop()
	return err
}

// runIngestion performs one discovery pass and starts every venue loop. When
// strict is set, having no venue to run is an error; otherwise it is logged
// and the other components keep running.
func (a *App) runIngestion(ctx context.Context, c *components, strict bool) error {
	results := c.coordinator.RunDiscoveryOnce(ctx)
	for name, res := range results {
		a.logger.InfoContext(ctx, "initial discovery",
			slog.String("venue", name),
			slog.Int("result", int(res)),
		)
	}

	if err := c.coordinator.StartContinuous(nil, 0); err != nil {
		if strict {
			return fmt.Errorf("app: start ingestion: %w", err)
		}
		a.logger.WarnContext(ctx, "continuous ingestion not started", slog.String("error", err.Error()))
		return nil
	}
	<-ctx.Done()
	c.coordinator.Stop()
	return nil
}

// startHTTPServer adds the API server and the signal hub to g. The server is
// shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, c *components) {
	hub := ws.NewHub(c.deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKey:             a.cfg.Server.APIKey,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(),
		Ingestion: handler.NewIngestionHandler(c.control, a.logger),
		Arbitrage: handler.NewArbitrageHandler(c.control, a.logger),
		Metrics:   c.deps.Metrics.Handler(),
	}, hub, c.deps.RateLimiter, c.deps.Metrics, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
