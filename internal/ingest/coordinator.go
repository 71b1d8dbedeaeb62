package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
	"github.com/alanyoungcy/venuearb/internal/venue"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval           = 60 * time.Second
	DefaultConnectTestTimeout = 10 * time.Second
)

// errNotAvailable is reported for venues without a constructed session.
var errNotAvailable = errors.New("reader not available")

// Config holds coordinator parameters.
type Config struct {
	Interval           time.Duration
	ConnectTestTimeout time.Duration
}

// DiscoveryResult is the per-venue outcome of RunDiscoveryOnce.
type DiscoveryResult int

const (
	DiscoveryUnavailable DiscoveryResult = -1
	DiscoveryFailure     DiscoveryResult = 0
	DiscoverySuccess     DiscoveryResult = 1
)

// IngestionCounts is the per-venue outcome of RunFullIngestionOnce. Counts
// are -1 when the venue has no session.
type IngestionCounts struct {
	Markets    int    `json:"markets"`
	OrderBooks int    `json:"order_books"`
	Trades     int    `json:"trades"`
	Error      string `json:"error,omitempty"`
}

// VenueInfo describes one registered session.
type VenueInfo struct {
	Name string           `json:"name"`
	Kind domain.VenueKind `json:"kind"`
}

// Coordinator runs one-shot and continuous ingestion across venue sessions.
type Coordinator struct {
	sessions map[string]venue.Session
	names    []string
	writer   *Writer
	cfg      Config
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	loops   *errgroup.Group
	running bool
}

// NewCoordinator creates a coordinator over sessions.
func NewCoordinator(sessions []venue.Session, writer *Writer, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ConnectTestTimeout <= 0 {
		cfg.ConnectTestTimeout = DefaultConnectTestTimeout
	}
	c := &Coordinator{
		sessions: make(map[string]venue.Session, len(sessions)),
		writer:   writer,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "ingest_coordinator")),
	}
	for _, s := range sessions {
		c.sessions[s.Venue()] = s
		c.names = append(c.names, s.Venue())
	}
	sort.Strings(c.names)
	return c
}

// Venues lists the registered sessions by name.
func (c *Coordinator) Venues() []VenueInfo {
	out := make([]VenueInfo, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, VenueInfo{Name: name, Kind: c.sessions[name].Kind()})
	}
	return out
}

// resolve returns the requested venue names, or every registered venue when
// none are given.
func (c *Coordinator) resolve(venues []string) []string {
	if len(venues) == 0 {
		return c.names
	}
	return venues
}

// RunDiscoveryOnce acquires and stores markets for each venue in parallel.
// Unknown venues report DiscoveryUnavailable rather than an error.
func (c *Coordinator) RunDiscoveryOnce(ctx context.Context, venues ...string) map[string]DiscoveryResult {
	names := c.resolve(venues)
	out := make(map[string]DiscoveryResult, len(names))
	var mu sync.Mutex
	var g errgroup.Group

	for _, name := range names {
		s, ok := c.sessions[name]
		if !ok {
			out[name] = DiscoveryUnavailable
			continue
		}
		g.Go(func() error {
			res := DiscoverySuccess
			markets, err := s.AcquireMarkets(ctx)
			if err == nil {
				err = c.writer.StoreMarkets(ctx, name, markets)
			}
			if err != nil {
				res = DiscoveryFailure
				c.writer.MarkFailed(name, err)
				c.logger.Error("market discovery failed", slog.String("venue", name), slog.String("error", err.Error()))
			} else {
				c.writer.MarkSuccess(name)
				c.logger.Info("market discovery complete", slog.String("venue", name), slog.Int("markets", len(markets)))
			}
			mu.Lock()
			out[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// RunFullIngestionOnce runs one markets → books → trades cycle per venue in
// parallel.
func (c *Coordinator) RunFullIngestionOnce(ctx context.Context, venues ...string) map[string]IngestionCounts {
	names := c.resolve(venues)
	out := make(map[string]IngestionCounts, len(names))
	var mu sync.Mutex
	var g errgroup.Group

	for _, name := range names {
		s, ok := c.sessions[name]
		if !ok {
			out[name] = IngestionCounts{Markets: -1, OrderBooks: -1, Trades: -1, Error: errNotAvailable.Error()}
			continue
		}
		g.Go(func() error {
			res, err := venue.Cycle(ctx, s, c.writer, c.logger)
			counts := IngestionCounts{Markets: res.Markets, OrderBooks: res.OrderBooks, Trades: res.Trades}
			c.writer.ObserveCycle(name, res, err)
			if err != nil {
				counts.Error = err.Error()
				c.logger.Error("ingestion failed", slog.String("venue", name), slog.String("error", err.Error()))
			} else {
				c.logger.Info("ingestion complete",
					slog.String("venue", name),
					slog.Int("markets", res.Markets),
					slog.Int("order_books", res.OrderBooks),
					slog.Int("trades", res.Trades),
				)
			}
			mu.Lock()
			out[name] = counts
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// StartContinuous starts one acquisition loop per venue. A zero interval uses
// the configured default. A loop that ends with an error marks only its own
// venue unhealthy. Starting while loops are running is an error.
func (c *Coordinator) StartContinuous(venues []string, interval time.Duration) error {
	if interval <= 0 {
		interval = c.cfg.Interval
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errors.New("ingest: continuous ingestion already running")
	}

	var selected []venue.Session
	for _, name := range c.resolve(venues) {
		s, ok := c.sessions[name]
		if !ok {
			c.logger.Warn("skipping unknown venue", slog.String("venue", name))
			continue
		}
		selected = append(selected, s)
	}
	if len(selected) == 0 {
		return fmt.Errorf("ingest: no available venues in %v", venues)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := new(errgroup.Group)
	for _, s := range selected {
		name := s.Venue()
		c.writer.SetRunning(name, true)
		g.Go(func() error {
			defer c.writer.SetRunning(name, false)
			c.logger.Info("venue loop starting", slog.String("venue", name), slog.Duration("interval", interval))
			if err := s.Run(ctx, c.writer, interval); err != nil {
				c.writer.MarkFailed(name, err)
				c.logger.Error("venue loop stopped", slog.String("venue", name), slog.String("error", err.Error()))
				return nil
			}
			c.logger.Info("venue loop stopped", slog.String("venue", name))
			return nil
		})
	}

	c.cancel = cancel
	c.loops = g
	c.running = true
	go c.reap(g, cancel)
	return nil
}

// reap clears the running state once every loop of g has returned on its
// own, so a set of failed loops does not block the next StartContinuous.
func (c *Coordinator) reap(g *errgroup.Group, cancel context.CancelFunc) {
	_ = g.Wait()
	cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loops == g {
		c.running = false
		c.cancel, c.loops = nil, nil
		c.logger.Info("all venue loops ended")
	}
}

// Stop signals every loop to exit and waits for them to return. Loops only
// observe the signal between cycles, so a cycle already underway finishes
// and writes before its loop exits. It is a no-op when nothing is running.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel, loops := c.cancel, c.loops
	c.running = false
	c.cancel, c.loops = nil, nil
	c.mu.Unlock()

	cancel()
	_ = loops.Wait()
	c.logger.Info("continuous ingestion stopped")
}

// Running reports whether continuous loops are active.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// LatestStatus returns the status of every registered venue.
func (c *Coordinator) LatestStatus() map[string]VenueStatus {
	out := make(map[string]VenueStatus, len(c.names))
	for _, name := range c.names {
		st, ok := c.writer.Status(name)
		if !ok {
			st = VenueStatus{Venue: name}
		}
		out[name] = st
	}
	return out
}

// TestConnection runs market discovery against the venue with a short
// timeout and reports how many markets it returned.
func (c *Coordinator) TestConnection(ctx context.Context, venueName string) (int, error) {
	s, ok := c.sessions[venueName]
	if !ok {
		return 0, domain.ConfigurationError(venueName, "test connection", errNotAvailable)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTestTimeout)
	defer cancel()
	markets, err := s.AcquireMarkets(ctx)
	if err != nil {
		return 0, err
	}
	return len(markets), nil
}
