// Package ingest drives the venue sessions and persists what they acquire.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
	"github.com/alanyoungcy/venuearb/internal/metrics"
	"github.com/alanyoungcy/venuearb/internal/venue"
)

// writeTimeout bounds a single store call. Writes run on a context detached
// from loop cancellation so that Stop never interrupts a half-written book.
const writeTimeout = 10 * time.Second

// Stores groups the persistence the writer needs.
type Stores struct {
	Markets domain.MarketStore
	Books   domain.OrderBookStore
	Trades  domain.TradeStore
	Health  domain.HealthStore
}

// VenueStatus is the in-process health view of one venue.
type VenueStatus = domain.VenueHealth

// Writer implements venue.Sink and venue.CycleObserver. It normalizes books,
// persists everything, tracks venue health and records metrics.
type Writer struct {
	stores  Stores
	metrics *metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	status map[string]*VenueStatus
}

var (
	_ venue.Sink          = (*Writer)(nil)
	_ venue.CycleObserver = (*Writer)(nil)
)

// NewWriter creates a Writer. rec may be nil.
func NewWriter(stores Stores, rec *metrics.Recorder, logger *slog.Logger) *Writer {
	if rec == nil {
		rec = metrics.New(nil)
	}
	return &Writer{
		stores:  stores,
		metrics: rec,
		logger:  logger.With(slog.String("component", "ingest_writer")),
		now:     time.Now,
		status:  make(map[string]*VenueStatus),
	}
}

func (w *Writer) writeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
}

// StoreMarkets upserts discovered markets.
func (w *Writer) StoreMarkets(ctx context.Context, venueName string, markets []domain.MarketDescriptor) error {
	if len(markets) == 0 {
		return nil
	}
	wctx, cancel := w.writeCtx(ctx)
	defer cancel()
	if err := w.stores.Markets.UpsertBatch(wctx, markets); err != nil {
		w.metrics.RecordIngestError(venueName, "store_markets")
		return fmt.Errorf("ingest: store markets: %w", err)
	}
	w.metrics.RecordIngested(venueName, "market", len(markets))
	return nil
}

// StoreBook normalizes the book and replaces the stored levels in one call.
func (w *Writer) StoreBook(ctx context.Context, venueName, marketID string, book domain.OrderBook, capturedAt time.Time) error {
	wctx, cancel := w.writeCtx(ctx)
	defer cancel()
	if err := w.stores.Books.ReplaceBook(wctx, venueName, marketID, book.Normalized(), capturedAt); err != nil {
		w.metrics.RecordIngestError(venueName, "store_book")
		return fmt.Errorf("ingest: store book %s: %w", marketID, err)
	}
	w.metrics.RecordIngested(venueName, "order_book", 1)
	return nil
}

// StoreTrades inserts trades; duplicates are ignored by the store.
func (w *Writer) StoreTrades(ctx context.Context, venueName string, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	wctx, cancel := w.writeCtx(ctx)
	defer cancel()
	n, err := w.stores.Trades.InsertBatch(wctx, trades)
	if err != nil {
		w.metrics.RecordIngestError(venueName, "store_trades")
		return fmt.Errorf("ingest: store trades: %w", err)
	}
	w.metrics.RecordIngested(venueName, "trade", int(n))
	return nil
}

// SetMarketStatus updates a market's lifecycle state. Unknown markets are
// ignored since chain resolutions often name markets never discovered here.
func (w *Writer) SetMarketStatus(ctx context.Context, ref domain.MarketRef, status domain.MarketStatus) error {
	wctx, cancel := w.writeCtx(ctx)
	defer cancel()
	err := w.stores.Markets.SetStatus(wctx, ref, status)
	if errors.Is(err, domain.ErrNotFound) {
		w.logger.Debug("status update for unknown market", slog.String("market", ref.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("ingest: set market status: %w", err)
	}
	return nil
}

// ActiveMarkets returns the venue's stored active markets.
func (w *Writer) ActiveMarkets(ctx context.Context, venueName string) ([]domain.MarketDescriptor, error) {
	markets, err := w.stores.Markets.ListActive(ctx, venueName)
	if err != nil {
		return nil, fmt.Errorf("ingest: active markets: %w", err)
	}
	return markets, nil
}

// ObserveCycle records the outcome of one acquisition pass.
func (w *Writer) ObserveCycle(venueName string, res venue.CycleResult, err error) {
	if err != nil {
		w.MarkFailed(venueName, err)
		return
	}
	now := w.now()
	w.update(venueName, func(st *VenueStatus) {
		st.Healthy = true
		st.LastSuccess = &now
		st.LastError = ""
	})
	w.logger.Debug("cycle complete",
		slog.String("venue", venueName),
		slog.Int("markets", res.Markets),
		slog.Int("order_books", res.OrderBooks),
		slog.Int("trades", res.Trades),
		slog.Int("failed_books", res.FailedBooks),
	)
}

// MarkFailed marks the venue unhealthy with err as the last error.
func (w *Writer) MarkFailed(venueName string, err error) {
	w.metrics.RecordIngestError(venueName, "cycle")
	w.update(venueName, func(st *VenueStatus) {
		st.Healthy = false
		st.LastError = err.Error()
	})
}

// MarkSuccess marks a one-shot pass as successful.
func (w *Writer) MarkSuccess(venueName string) {
	w.ObserveCycle(venueName, venue.CycleResult{}, nil)
}

// SetRunning flags whether a continuous loop is active for the venue.
func (w *Writer) SetRunning(venueName string, running bool) {
	w.update(venueName, func(st *VenueStatus) { st.Running = running })
}

// update applies fn to the venue's status, refreshes the stored counts and
// mirrors the result into the health store.
func (w *Writer) update(venueName string, fn func(*VenueStatus)) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	markets, err := w.stores.Markets.Count(ctx, venueName)
	if err != nil {
		w.logger.Warn("count markets failed", slog.String("venue", venueName), slog.String("error", err.Error()))
	}
	books, err := w.stores.Books.CountBooks(ctx, venueName)
	if err != nil {
		w.logger.Warn("count books failed", slog.String("venue", venueName), slog.String("error", err.Error()))
	}

	w.mu.Lock()
	st, ok := w.status[venueName]
	if !ok {
		st = &VenueStatus{Venue: venueName}
		w.status[venueName] = st
	}
	fn(st)
	st.MarketCount = markets
	st.OrderBookCount = books
	st.UpdatedAt = w.now()
	snapshot := *st
	w.mu.Unlock()

	w.metrics.SetVenueHealthy(venueName, snapshot.Healthy)
	if w.stores.Health == nil {
		return
	}
	if err := w.stores.Health.Upsert(ctx, snapshot); err != nil {
		w.logger.Warn("mirror venue health failed", slog.String("venue", venueName), slog.String("error", err.Error()))
	}
}

// Status returns a copy of the venue's status.
func (w *Writer) Status(venueName string) (VenueStatus, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.status[venueName]
	if !ok {
		return VenueStatus{}, false
	}
	return *st, true
}
