package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// Archiver exports the previous calendar month of signals to cold storage
// on a cron schedule.
type Archiver struct {
	blob   domain.Archiver
	logger *slog.Logger
	now    func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(blob domain.Archiver, logger *slog.Logger) *Archiver {
	return &Archiver{
		blob:   blob,
		logger: logger.With(slog.String("component", "archiver")),
		now:    time.Now,
	}
}

// previousMonth returns [first of last month, first of this month) in UTC.
func previousMonth(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	to := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return to.AddDate(0, -1, 0), to
}

// Run archives the calendar month before now.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	from, to := previousMonth(a.now())
	a.logger.Info("starting archive run", slog.Time("from", from), slog.Time("to", to))

	n, err := a.blob.ArchiveSignals(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("pipeline: archive signals %s: %w", from.Format("2006-01"), err)
	}
	a.logger.Info("archive run complete", slog.Int64("signals_archived", n))
	return n, nil
}

// RunCron runs the archiver on sched until ctx is cancelled. Failed runs are
// logged and retried at the next trigger.
func (a *Archiver) RunCron(ctx context.Context, sched Schedule) error {
	for {
		next, err := sched.Next(a.now())
		if err != nil {
			return err
		}
		wait := time.Until(next)
		a.logger.Debug("archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
