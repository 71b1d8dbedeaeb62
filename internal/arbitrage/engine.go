// Package arbitrage evaluates matched cross-venue market pairs against the
// stored order books and emits time-bounded, auditable signals.
package arbitrage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
	"github.com/alanyoungcy/venuearb/internal/metrics"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Config holds the decision parameters.
type Config struct {
	StalenessThreshold time.Duration
	MinEdgeBuffer      float64
	MinExecutableSize  float64
	// MaxSlippage is the highest slippage rate (slippage / size) a signal may
	// carry before it is flagged in its metadata.
	MaxSlippage    float64
	FeeRates       map[string]float64
	DefaultFeeRate float64
	SignalExpiry   time.Duration
	Workers        int
}

// DefaultConfig returns the standard decision parameters.
func DefaultConfig() Config {
	return Config{
		StalenessThreshold: 30 * time.Second,
		MinEdgeBuffer:      0.02,
		MinExecutableSize:  10,
		MaxSlippage:        0.01,
		FeeRates: map[string]float64{
			domain.VenueKalshi:     0.001,
			domain.VenuePolymarket: 0.002,
		},
		DefaultFeeRate: 0.002,
		SignalExpiry:   5 * time.Minute,
		Workers:        8,
	}
}

func (c Config) feeRate(venue string) float64 {
	if r, ok := c.FeeRates[strings.ToLower(venue)]; ok {
		return r
	}
	return c.DefaultFeeRate
}

// Deps are the engine's collaborators. Bus and Metrics are optional.
type Deps struct {
	Pairs   domain.PairStore
	Books   domain.OrderBookStore
	Signals domain.SignalStore
	Bus     domain.SignalBus
	Metrics *metrics.Recorder
}

// Engine is the arbitrage decision engine.
type Engine struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewEngine creates an engine.
func NewEngine(cfg Config, deps Deps, logger *slog.Logger) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	return &Engine{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(slog.String("component", "arbitrage_engine")),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// quote is one leg's validated top of book.
type quote struct {
	venue    string
	bid, ask domain.Quote
}

func (e *Engine) legQuote(ctx context.Context, ref domain.MarketRef, now time.Time) (quote, error) {
	snap, err := e.deps.Books.Snapshot(ctx, ref.Venue, ref.MarketID, e.cfg.StalenessThreshold, now)
	if errors.Is(err, domain.ErrNotFound) {
		return quote{}, domain.ValidationError(ref.Venue, "snapshot", fmt.Errorf("no order book for %s", ref))
	}
	if err != nil {
		return quote{}, domain.DataError(ref.Venue, "snapshot", fmt.Errorf("%s: %w", ref, err))
	}
	if snap.Bid == nil || snap.Ask == nil {
		return quote{}, domain.ValidationError(ref.Venue, "snapshot", fmt.Errorf("%s has no best bid or ask", ref))
	}
	if snap.IsStale {
		return quote{}, domain.StaleDataError(ref.Venue, "snapshot",
			fmt.Errorf("%s captured at %s", ref, snap.CapturedAt.Format(time.RFC3339)))
	}
	return quote{venue: ref.Venue, bid: *snap.Bid, ask: *snap.Ask}, nil
}

// slippage is the size-tiered slippage buffer.
func slippage(size float64) float64 {
	switch {
	case size < 100:
		return 0.001 * size
	case size < 1000:
		return 0.002 * size
	default:
		return 0.005 * size
	}
}

// confidence applies the multiplicative penalties and clamps to [0, 1].
func confidence(size, spreadA, spreadB, total float64) float64 {
	c := 1.0
	if size < 50 {
		c *= 0.8
	} else if size < 100 {
		c *= 0.9
	}
	if spreadA < 0.01 || spreadB < 0.01 {
		c *= 0.7
	}
	if total > 0.98 {
		c *= 0.6
	}
	return math.Max(0, math.Min(1, c))
}

// EvaluatePair computes the signal for one pair at now. Stale or incomplete
// books and undersized opportunities return a suppressed error
// (domain.IsSuppressed) and no signal.
func (e *Engine) EvaluatePair(ctx context.Context, pair domain.MatchedPair, now time.Time) (*domain.Signal, error) {
	a, err := e.legQuote(ctx, pair.MarketA, now)
	if err != nil {
		return nil, err
	}
	b, err := e.legQuote(ctx, pair.MarketB, now)
	if err != nil {
		return nil, err
	}

	costAB := a.ask.Price + b.bid.Price
	costBA := a.bid.Price + b.ask.Price

	strategy := domain.StrategySellABuyB
	raw := costBA
	sizeA, sizeB := a.bid.Size, b.ask.Size
	if costAB < costBA {
		strategy = domain.StrategyBuyASellB
		raw = costAB
		sizeA, sizeB = a.ask.Size, b.bid.Size
	}
	size := math.Min(sizeA, sizeB)
	if size < e.cfg.MinExecutableSize {
		return nil, domain.ValidationError("", "evaluate pair",
			fmt.Errorf("pair %s: executable size %.4f below minimum %.4f", pair.ID, size, e.cfg.MinExecutableSize))
	}

	feesA := size * e.cfg.feeRate(a.venue)
	feesB := size * e.cfg.feeRate(b.venue)
	slip := slippage(size)
	total := raw + feesA + feesB + slip
	edge := 1 - total
	dirA, dirB := strategy.Directions()

	metadata := map[string]any{
		"raw_cost": raw,
		"fees_breakdown": map[string]any{
			"market_a": feesA,
			"market_b": feesB,
		},
		"slippage_buffer": slip,
		"strategy_details": map[string]any{
			"strategy":    string(strategy),
			"direction_a": string(dirA),
			"direction_b": string(dirB),
		},
		"executable_size_details": map[string]any{
			"market_a_size": sizeA,
			"market_b_size": sizeB,
		},
	}
	if slip/size > e.cfg.MaxSlippage {
		metadata["slippage_exceeds_max"] = true
	}

	return &domain.Signal{
		ID:             e.newID(),
		PairID:         pair.ID,
		MarketA:        pair.MarketA,
		MarketB:        pair.MarketB,
		Strategy:       strategy,
		DirectionA:     dirA,
		DirectionB:     dirB,
		TotalCost:      total,
		EdgeBuffer:     edge,
		IsArbitrage:    total < 1-e.cfg.MinEdgeBuffer,
		ExecutableSize: size,
		QuoteA:         domain.LegQuote{Venue: a.venue, BestBid: a.bid.Price, BestAsk: a.ask.Price, BidSize: a.bid.Size, AskSize: a.ask.Size},
		QuoteB:         domain.LegQuote{Venue: b.venue, BestBid: b.bid.Price, BestAsk: b.ask.Price, BidSize: b.bid.Size, AskSize: b.ask.Size},
		FeesA:          feesA,
		FeesB:          feesB,
		SlippageBuffer: slip,
		SignalStrength: math.Abs(1 - total),
		Confidence:     confidence(size, a.ask.Price-a.bid.Price, b.ask.Price-b.bid.Price, total),
		Status:         domain.SignalStatusActive,
		ExpiresAt:      now.Add(e.cfg.SignalExpiry),
		CreatedAt:      now,
		Metadata:       metadata,
	}, nil
}

// EvaluateAllActive evaluates every eligible pair on a bounded worker pool,
// appends each produced signal and publishes it. Per-pair failures are
// logged and skipped. Signals are returned in pair order.
func (e *Engine) EvaluateAllActive(ctx context.Context) ([]domain.Signal, error) {
	start := time.Now()
	pairs, err := e.deps.Pairs.ListEligible(ctx)
	if err != nil {
		return nil, fmt.Errorf("arbitrage: list eligible pairs: %w", err)
	}
	now := e.now()

	results := make([]*domain.Signal, len(pairs))
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, pair := range pairs {
		g.Go(func() error {
			results[i] = e.evaluateAndRecord(ctx, pair, now)
			return nil
		})
	}
	_ = g.Wait()

	signals := make([]domain.Signal, 0, len(pairs))
	arbs := 0
	for _, s := range results {
		if s == nil {
			continue
		}
		signals = append(signals, *s)
		if s.IsArbitrage {
			arbs++
		}
	}
	e.deps.Metrics.RecordLatency("evaluate_all", time.Since(start).Seconds())
	e.logger.Info("pair sweep complete",
		slog.Int("pairs", len(pairs)),
		slog.Int("signals", len(signals)),
		slog.Int("arbitrage", arbs),
	)
	return signals, nil
}

func (e *Engine) evaluateAndRecord(ctx context.Context, pair domain.MatchedPair, now time.Time) *domain.Signal {
	log := e.logger.With(slog.String("pair_id", pair.ID))

	sig, err := e.EvaluatePair(ctx, pair, now)
	if err != nil {
		if domain.IsSuppressed(err) {
			e.deps.Metrics.RecordEvaluation("suppressed")
			log.Debug("pair suppressed", slog.String("reason", err.Error()))
			return nil
		}
		e.deps.Metrics.RecordEvaluation("error")
		log.Warn("pair evaluation failed", slog.String("error", err.Error()))
		return nil
	}

	if err := e.deps.Signals.Append(ctx, *sig); err != nil {
		e.deps.Metrics.RecordEvaluation("error")
		log.Error("append signal failed", slog.String("error", err.Error()))
		return nil
	}
	e.deps.Metrics.RecordEvaluation("signal")
	e.deps.Metrics.RecordSignal(string(sig.Strategy), sig.IsArbitrage)
	e.publish(ctx, sig)

	if sig.IsArbitrage {
		log.Info("arbitrage signal",
			slog.String("signal_id", sig.ID),
			slog.String("strategy", string(sig.Strategy)),
			slog.Float64("total_cost", sig.TotalCost),
			slog.Float64("executable_size", sig.ExecutableSize),
			slog.Float64("confidence", sig.Confidence),
		)
	}
	return sig
}

func (e *Engine) publish(ctx context.Context, sig *domain.Signal) {
	if e.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(sig)
	if err != nil {
		e.logger.Warn("marshal signal failed", slog.String("signal_id", sig.ID), slog.String("error", err.Error()))
		return
	}
	if err := e.deps.Bus.Publish(ctx, domain.ChannelSignals, payload); err != nil {
		e.logger.Warn("publish signal failed", slog.String("signal_id", sig.ID), slog.String("error", err.Error()))
	}
	if err := e.deps.Bus.StreamAppend(ctx, domain.StreamSignals, payload); err != nil {
		e.logger.Warn("append signal stream failed", slog.String("signal_id", sig.ID), slog.String("error", err.Error()))
	}
}

// ActiveSignals returns live arbitrage signals at or above minConfidence.
func (e *Engine) ActiveSignals(ctx context.Context, limit int, minConfidence float64) ([]domain.Signal, error) {
	signals, err := e.deps.Signals.QueryActive(ctx, domain.ActiveQuery{
		MinConfidence: minConfidence,
		Limit:         limit,
		Now:           e.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("arbitrage: active signals: %w", err)
	}
	return signals, nil
}

// CleanupExpired moves signals past their expiry to expired.
func (e *Engine) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := e.deps.Signals.MarkExpired(ctx, e.now())
	if err != nil {
		return 0, fmt.Errorf("arbitrage: cleanup expired: %w", err)
	}
	e.deps.Metrics.RecordExpired(n)
	if n > 0 {
		e.logger.Info("expired signals", slog.Int64("count", n))
	}
	return n, nil
}
