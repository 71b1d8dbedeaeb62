package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSweeper struct {
	evaluations atomic.Int32
	expiries    atomic.Int32
	evalErr     error
}

func (f *fakeSweeper) EvaluateAllActive(context.Context) ([]domain.Signal, error) {
	f.evaluations.Add(1)
	if f.evalErr != nil {
		return nil, f.evalErr
	}
	return []domain.Signal{{ID: "a", IsArbitrage: true}, {ID: "b"}}, nil
}

func (f *fakeSweeper) CleanupExpired(context.Context) (int64, error) {
	f.expiries.Add(1)
	return 2, nil
}

type fakeLocks struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released = append(l.released, key)
	}, nil
}

type fakeBlob struct {
	from, to time.Time
	n        int64
	err      error
}

func (b *fakeBlob) ArchiveSignals(_ context.Context, from, to time.Time) (int64, error) {
	b.from, b.to = from, to
	return b.n, b.err
}

func TestParseCron(t *testing.T) {
	sched, err := ParseCron("0 3 1 * *")
	require.NoError(t, err)
	next, err := sched.Next(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 1, 3, 0, 0, 0, time.UTC), next)

	sched, err = ParseCron("*/15 9-10 * * 1-5")
	require.NoError(t, err)
	// Saturday rolls to Monday 09:00.
	next, err = sched.Next(time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC), next)
	next, err = sched.Next(next)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 9, 9, 15, 0, 0, time.UTC), next)

	for _, bad := range []string{"* * *", "61 * * * *", "a * * * *", "*/0 * * * *", "5-1 * * * *"} {
		_, err := ParseCron(bad)
		assert.Error(t, err, bad)
	}
}

func TestPreviousMonth(t *testing.T) {
	from, to := previousMonth(time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), to)
}

func TestArchiverRun(t *testing.T) {
	blob := &fakeBlob{n: 7}
	a := NewArchiver(blob, testLogger())
	a.now = func() time.Time { return time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC) }

	n, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), blob.from)

	blob.err = errors.New("bucket gone")
	_, err = a.Run(context.Background())
	assert.ErrorContains(t, err, "bucket gone")
}

func TestScheduler_SweepsWithoutLocks(t *testing.T) {
	sw := &fakeSweeper{}
	s := NewScheduler(sw, nil, nil, SchedulerConfig{}, testLogger())

	require.NoError(t, s.EvaluateOnce(context.Background()))
	require.NoError(t, s.ExpireOnce(context.Background()))
	assert.Equal(t, int32(1), sw.evaluations.Load())
	assert.Equal(t, int32(1), sw.expiries.Load())

	sw.evalErr = errors.New("pairs unavailable")
	assert.Error(t, s.EvaluateOnce(context.Background()))
}

func TestScheduler_LockHeldSkips(t *testing.T) {
	sw := &fakeSweeper{}
	locks := &fakeLocks{held: map[string]bool{"sweep:evaluate": true}}
	s := NewScheduler(sw, locks, nil, SchedulerConfig{}, testLogger())

	require.NoError(t, s.EvaluateOnce(context.Background()))
	assert.Equal(t, int32(0), sw.evaluations.Load())

	require.NoError(t, s.ExpireOnce(context.Background()))
	assert.Equal(t, int32(1), sw.expiries.Load())
	assert.Equal(t, []string{"sweep:expire"}, locks.released)
}

func TestScheduler_RunTicksUntilCancelled(t *testing.T) {
	sw := &fakeSweeper{}
	s := NewScheduler(sw, nil, nil, SchedulerConfig{
		EvaluationInterval: 10 * time.Millisecond,
		ExpiryInterval:     10 * time.Millisecond,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return sw.evaluations.Load() >= 2 && sw.expiries.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_BadArchiveCron(t *testing.T) {
	s := NewScheduler(&fakeSweeper{}, nil, NewArchiver(&fakeBlob{}, testLogger()),
		SchedulerConfig{ArchiveCron: "bad"}, testLogger())
	assert.Error(t, s.Run(context.Background()))
}
