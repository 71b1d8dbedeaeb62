// Package pipeline runs the scheduled background work: evaluation sweeps,
// expiry sweeps and the monthly signal archive.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// Sweeper is the engine surface the scheduler drives.
type Sweeper interface {
	EvaluateAllActive(ctx context.Context) ([]domain.Signal, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

// SchedulerConfig holds sweep cadence.
type SchedulerConfig struct {
	EvaluationInterval time.Duration
	ExpiryInterval     time.Duration
	LockTTL            time.Duration
	ArchiveCron        string // empty disables the archive loop
}

// Scheduler runs the evaluation and expiry sweeps on tickers. When a lock
// manager is set, each sweep runs only on the replica holding its lock.
type Scheduler struct {
	sweeper  Sweeper
	locks    domain.LockManager
	archiver *Archiver
	cfg      SchedulerConfig
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler. locks and archiver may be nil.
func NewScheduler(sweeper Sweeper, locks domain.LockManager, archiver *Archiver, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if cfg.EvaluationInterval <= 0 {
		cfg.EvaluationInterval = 30 * time.Second
	}
	if cfg.ExpiryInterval <= 0 {
		cfg.ExpiryInterval = 60 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.EvaluationInterval
	}
	return &Scheduler{
		sweeper:  sweeper,
		locks:    locks,
		archiver: archiver,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// Run starts every loop and blocks until ctx is cancelled or a loop fails.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting",
		slog.Duration("evaluation_interval", s.cfg.EvaluationInterval),
		slog.Duration("expiry_interval", s.cfg.ExpiryInterval),
		slog.String("archive_cron", s.cfg.ArchiveCron),
	)

	var sched *Schedule
	if s.archiver != nil && s.cfg.ArchiveCron != "" {
		parsed, err := ParseCron(s.cfg.ArchiveCron)
		if err != nil {
			return fmt.Errorf("pipeline: archive cron %q: %w", s.cfg.ArchiveCron, err)
		}
		sched = &parsed
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.every(ctx, s.cfg.EvaluationInterval, "evaluate", s.EvaluateOnce)
		return nil
	})
	g.Go(func() error {
		s.every(ctx, s.cfg.ExpiryInterval, "expire", s.ExpireOnce)
		return nil
	})

	if sched != nil {
		g.Go(func() error {
			err := s.archiver.RunCron(ctx, *sched)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	err := g.Wait()
	s.logger.Info("scheduler stopped")
	return err
}

func (s *Scheduler) every(ctx context.Context, interval time.Duration, name string, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("sweep failed", slog.String("sweep", name), slog.String("error", err.Error()))
			}
		}
	}
}

// guarded runs fn under the named lock. A lock held elsewhere skips the run.
func (s *Scheduler) guarded(ctx context.Context, name string, fn func(context.Context) error) error {
	if s.locks == nil {
		return fn(ctx)
	}
	unlock, err := s.locks.Acquire(ctx, "sweep:"+name, s.cfg.LockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		s.logger.Debug("sweep skipped, lock held elsewhere", slog.String("sweep", name))
		return nil
	}
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

// EvaluateOnce runs one evaluation sweep.
func (s *Scheduler) EvaluateOnce(ctx context.Context) error {
	return s.guarded(ctx, "evaluate", func(ctx context.Context) error {
		signals, err := s.sweeper.EvaluateAllActive(ctx)
		if err != nil {
			return err
		}
		arb := 0
		for _, sig := range signals {
			if sig.IsArbitrage {
				arb++
			}
		}
		s.logger.Info("evaluation sweep complete",
			slog.Int("signals", len(signals)),
			slog.Int("arbitrage", arb),
		)
		return nil
	})
}

// ExpireOnce runs one expiry sweep.
func (s *Scheduler) ExpireOnce(ctx context.Context) error {
	return s.guarded(ctx, "expire", func(ctx context.Context) error {
		n, err := s.sweeper.CleanupExpired(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			s.logger.Info("expired signals", slog.Int64("count", n))
		}
		return nil
	})
}
