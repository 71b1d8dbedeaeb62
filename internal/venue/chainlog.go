package venue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogSource is the subset of an Ethereum RPC client the chain-log session
// needs. *ethclient.Client satisfies it.
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// ChainEventKind is the kind of a decoded contract log.
type ChainEventKind string

const (
	ChainTrade          ChainEventKind = "trade"
	ChainMarketCreated  ChainEventKind = "market_created"
	ChainMarketResolved ChainEventKind = "market_resolved"
)

// ChainEvent is one decoded contract log.
type ChainEvent struct {
	Kind   ChainEventKind
	Trade  domain.Trade
	Market domain.MarketDescriptor
	Ref    domain.MarketRef
}

// LogDecoder turns raw contract logs into chain events.
type LogDecoder interface {
	// FilterQuery returns the address and topic filter for the contract.
	FilterQuery() ethereum.FilterQuery
	// Decode decodes one log. ok is false for logs the decoder ignores.
	Decode(venue string, lg types.Log, seenAt time.Time) (ev ChainEvent, ok bool, err error)
}

// ChainLogSession follows a contract's event logs. It prefers a push
// subscription and falls back to polling block ranges when the RPC endpoint
// cannot push.
type ChainLogSession struct {
	name    string
	logs    LogSource
	decoder LogDecoder
	opts    Options
	logger  *slog.Logger
}

// NewChainLog builds a chain-log session.
func NewChainLog(name string, logs LogSource, decoder LogDecoder, opts Options, logger *slog.Logger) *ChainLogSession {
	return &ChainLogSession{
		name:    name,
		logs:    logs,
		decoder: decoder,
		opts:    opts.withDefaults(),
		logger:  logger.With(slog.String("component", "venue"), slog.String("venue", name), slog.String("kind", "chainlog")),
	}
}

func (s *ChainLogSession) Venue() string          { return s.name }
func (s *ChainLogSession) Kind() domain.VenueKind { return domain.VenueKindChainLog }
func (s *ChainLogSession) now() time.Time         { return s.opts.Now() }

// recent decodes every log in the lookback window ending at the chain head.
func (s *ChainLogSession) recent(ctx context.Context) ([]ChainEvent, error) {
	rctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	head, err := s.logs.BlockNumber(rctx)
	if err != nil {
		return nil, domain.ConnectivityError(s.name, "block number", err)
	}
	from := lookbackStart(head, s.opts.LookbackBlocks)
	logs, err := s.logs.FilterLogs(rctx, s.rangeQuery(from, head))
	if err != nil {
		return nil, domain.ConnectivityError(s.name, "filter logs", err)
	}
	return s.decode(logs), nil
}

// AcquireMarkets returns markets prepared within the lookback window.
// Condition preparation carries no resolution date, so the horizon filter
// does not apply to chain markets.
func (s *ChainLogSession) AcquireMarkets(ctx context.Context) ([]domain.MarketDescriptor, error) {
	events, err := s.recent(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.MarketDescriptor
	for _, ev := range events {
		if ev.Kind == ChainMarketCreated {
			out = append(out, ev.Market)
		}
	}
	return out, nil
}

// AcquireOrderBook always fails: the contract exposes transfers, not a book.
func (s *ChainLogSession) AcquireOrderBook(_ context.Context, marketID string) (domain.OrderBook, error) {
	return domain.OrderBook{}, domain.DataError(s.name, "acquire order book "+marketID, errors.New("chain-log venues carry no order book"))
}

// AcquireTrades returns transfers of marketID within the lookback window.
func (s *ChainLogSession) AcquireTrades(ctx context.Context, marketID string) ([]domain.Trade, error) {
	events, err := s.recent(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.Trade
	for _, ev := range events {
		if ev.Kind == ChainTrade && ev.Trade.MarketID == marketID {
			out = append(out, ev.Trade)
		}
	}
	return out, nil
}

// Run follows the contract until ctx is cancelled. interval is unused: the
// pace is set by PollInterval and ErrorBackoff. A batch already fetched when
// ctx is cancelled is still written.
func (s *ChainLogSession) Run(ctx context.Context, sink Sink, _ time.Duration) error {
	from, err := s.subscribe(ctx, sink)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		s.logger.Info("log subscription unavailable, polling block ranges", slog.String("error", err.Error()))
	}
	return s.poll(ctx, sink, from)
}

// subscribe consumes a push subscription until it fails. It returns the next
// block to poll from (0 when no log was seen).
func (s *ChainLogSession) subscribe(ctx context.Context, sink Sink) (uint64, error) {
	ch := make(chan types.Log, 256)
	sub, err := s.logs.SubscribeFilterLogs(ctx, s.decoder.FilterQuery(), ch)
	if err != nil {
		return 0, err
	}
	defer sub.Unsubscribe()
	s.logger.Info("subscribed to contract logs")

	// A live subscription is healthy even before the first log arrives.
	obs, _ := sink.(CycleObserver)
	if obs != nil {
		obs.ObserveCycle(s.name, CycleResult{}, nil)
	}
	work := context.WithoutCancel(ctx)
	var next uint64
	for {
		select {
		case <-ctx.Done():
			return next, nil
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			return next, err
		case lg := <-ch:
			batch := []types.Log{lg}
		drain:
			for len(batch) < cap(ch) {
				select {
				case more := <-ch:
					batch = append(batch, more)
				default:
					break drain
				}
			}
			events := s.decode(batch)
			s.dispatch(work, sink, events)
			if obs != nil {
				obs.ObserveCycle(s.name, cycleFromEvents(events), nil)
			}
			for _, l := range batch {
				if l.BlockNumber+1 > next {
					next = l.BlockNumber + 1
				}
			}
		}
	}
}

// poll walks block ranges from..head. An RPC error backs off and retries the
// same range; MaxReconnectAttempts consecutive errors end the loop.
func (s *ChainLogSession) poll(ctx context.Context, sink Sink, from uint64) error {
	failures := 0
	fail := func(op string, err error) error {
		failures++
		s.logger.Warn("chain rpc failed",
			slog.String("op", op),
			slog.Uint64("from_block", from),
			slog.Int("attempt", failures),
			slog.String("error", err.Error()),
		)
		if failures >= s.opts.MaxReconnectAttempts {
			return domain.ConnectivityError(s.name, op, fmt.Errorf("%d consecutive failures: %w", failures, err))
		}
		return nil
	}

	work := context.WithoutCancel(ctx)
	for {
		rctx, cancel := context.WithTimeout(work, s.opts.RequestTimeout)
		head, err := s.logs.BlockNumber(rctx)
		cancel()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if ferr := fail("block number", err); ferr != nil {
				return ferr
			}
			if !sleepCtx(ctx, s.opts.ErrorBackoff) {
				return nil
			}
			continue
		}
		if from == 0 {
			from = lookbackStart(head, s.opts.LookbackBlocks)
			s.logger.Info("polling contract logs", slog.Uint64("from_block", from))
		}

		if head >= from {
			rctx, cancel := context.WithTimeout(work, s.opts.RequestTimeout)
			logs, err := s.logs.FilterLogs(rctx, s.rangeQuery(from, head))
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if ferr := fail("filter logs", err); ferr != nil {
					return ferr
				}
				if !sleepCtx(ctx, s.opts.ErrorBackoff) {
					return nil
				}
				continue
			}
			events := s.decode(logs)
			s.dispatch(work, sink, events)
			if obs, ok := sink.(CycleObserver); ok {
				obs.ObserveCycle(s.name, cycleFromEvents(events), nil)
			}
			from = head + 1
		}
		failures = 0

		if !sleepCtx(ctx, s.opts.PollInterval) {
			return nil
		}
	}
}

func (s *ChainLogSession) rangeQuery(from, to uint64) ethereum.FilterQuery {
	q := s.decoder.FilterQuery()
	q.FromBlock = new(big.Int).SetUint64(from)
	q.ToBlock = new(big.Int).SetUint64(to)
	return q
}

func (s *ChainLogSession) decode(logs []types.Log) []ChainEvent {
	seenAt := s.now()
	out := make([]ChainEvent, 0, len(logs))
	for _, lg := range logs {
		ev, ok, err := s.decoder.Decode(s.name, lg, seenAt)
		if err != nil {
			s.logger.Debug("undecodable log skipped",
				slog.String("tx", lg.TxHash.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			out = append(out, ev)
		}
	}
	return out
}

// dispatch writes decoded events in log order: markets first so trades and
// resolutions can refer to them.
func (s *ChainLogSession) dispatch(ctx context.Context, sink Sink, events []ChainEvent) {
	var (
		markets  []domain.MarketDescriptor
		trades   []domain.Trade
		resolved []domain.MarketRef
	)
	for _, ev := range events {
		switch ev.Kind {
		case ChainMarketCreated:
			markets = append(markets, ev.Market)
		case ChainTrade:
			trades = append(trades, ev.Trade)
		case ChainMarketResolved:
			resolved = append(resolved, ev.Ref)
		}
	}
	if len(markets) > 0 {
		if err := sink.StoreMarkets(ctx, s.name, markets); err != nil {
			s.logger.Warn("store chain markets failed", slog.String("error", err.Error()))
		}
	}
	if len(trades) > 0 {
		if err := sink.StoreTrades(ctx, s.name, trades); err != nil {
			s.logger.Warn("store chain trades failed", slog.String("error", err.Error()))
		}
	}
	for _, ref := range resolved {
		if err := sink.SetMarketStatus(ctx, ref, domain.MarketStatusClosed); err != nil {
			s.logger.Warn("mark market resolved failed", slog.String("market", ref.MarketID), slog.String("error", err.Error()))
		}
	}
}

func cycleFromEvents(events []ChainEvent) CycleResult {
	var res CycleResult
	for _, ev := range events {
		switch ev.Kind {
		case ChainMarketCreated:
			res.Markets++
		case ChainTrade:
			res.Trades++
		}
	}
	return res
}

func lookbackStart(head, lookback uint64) uint64 {
	if head <= lookback {
		return 0
	}
	return head - lookback
}
