package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/kalshi-sync/internal/book"
	"github.com/rickgao/kalshi-sync/internal/metrics"
)

// Writer consumes committed book updates from the synchronizer queue and
// persists them to TimescaleDB: a top-of-book row per update, plus a trade
// row when the update came from a trade tick.
type Writer struct {
	cfg    Config
	logger *slog.Logger

	// Input from the synchronizer
	input *book.Queue[book.Update]

	// Database
	db *pgxpool.Pool

	// Batching (separate batches for book rows and trades)
	bookBatch  []bookRow
	tradeBatch []tradeRow
	batchMu    sync.Mutex

	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics Metrics
}

// New creates a batch writer over the given update queue.
func New(cfg Config, input *book.Queue[book.Update], db *pgxpool.Pool, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DrainChunk <= 0 {
		cfg.DrainChunk = DefaultConfig().DrainChunk
	}
	return &Writer{
		cfg:        cfg,
		input:      input,
		db:         db,
		logger:     logger,
		bookBatch:  make([]bookRow, 0, cfg.BatchSize),
		tradeBatch: make([]tradeRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming updates and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("book writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping book writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("book writer stopped")
	case <-ctx.Done():
		w.logger.Warn("book writer stop timed out")
	}

	// Final flush
	w.flush()

	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop drains the update queue and accumulates batches.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			updates := w.input.DrainTo(w.cfg.DrainChunk)
			if len(updates) == 0 {
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}

			for _, u := range updates {
				w.handleUpdate(u)
			}
		}
	}
}

// flushLoop periodically flushes the batches.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush()
		}
	}
}

// handleUpdate transforms one committed update into batch rows.
func (w *Writer) handleUpdate(u book.Update) {
	row := transformBook(u)

	w.batchMu.Lock()
	w.bookBatch = append(w.bookBatch, row)
	if u.Trade != nil {
		w.tradeBatch = append(w.tradeBatch, transformTrade(u))
	}
	shouldFlush := len(w.bookBatch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

// transformBook converts a book.Update to a bookRow.
func transformBook(u book.Update) bookRow {
	return bookRow{
		UpdatedAt:      u.Book.LastUpdateAt,
		Ticker:         u.Book.MarketID,
		BestBid:        u.Book.BestBid,
		BestAsk:        u.Book.BestAsk,
		LastTradePrice: u.Book.LastTradePrice,
		Crossed:        u.Crossed,
	}
}

// transformTrade converts the trade tick carried by an update to a tradeRow.
func transformTrade(u book.Update) tradeRow {
	t := u.Trade
	return tradeRow{
		TradeID:    t.TradeID.String(),
		ExchangeTs: t.ExchangeTS,
		ReceivedAt: t.ReceivedAt,
		Ticker:     t.Ticker,
		Price:      t.Price,
		Size:       t.Size,
		TakerSide:  t.TakerSide,
	}
}

// flush writes both batches to the database.
func (w *Writer) flush() {
	w.batchMu.Lock()
	bookBatch := w.bookBatch
	tradeBatch := w.tradeBatch
	w.bookBatch = make([]bookRow, 0, w.cfg.BatchSize)
	w.tradeBatch = make([]tradeRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	if len(bookBatch) == 0 && len(tradeBatch) == 0 {
		return
	}

	start := time.Now()

	if len(bookBatch) > 0 {
		conflicts, err := w.batchInsertBooks(bookBatch)
		if err != nil {
			w.logger.Error("book batch insert failed", "error", err, "count", len(bookBatch))
			w.batchMu.Lock()
			w.metrics.Errors++
			w.batchMu.Unlock()
		} else {
			w.batchMu.Lock()
			w.metrics.BookInserts += int64(len(bookBatch) - conflicts)
			w.metrics.Conflicts += int64(conflicts)
			w.batchMu.Unlock()
			metrics.WriterRows.WithLabelValues("book_updates").Add(float64(len(bookBatch) - conflicts))
		}
	}

	if len(tradeBatch) > 0 {
		conflicts, err := w.batchInsertTrades(tradeBatch)
		if err != nil {
			w.logger.Error("trade batch insert failed", "error", err, "count", len(tradeBatch))
			w.batchMu.Lock()
			w.metrics.Errors++
			w.batchMu.Unlock()
		} else {
			w.batchMu.Lock()
			w.metrics.TradeInserts += int64(len(tradeBatch) - conflicts)
			w.metrics.Conflicts += int64(conflicts)
			w.batchMu.Unlock()
			metrics.WriterRows.WithLabelValues("trades").Add(float64(len(tradeBatch) - conflicts))
		}
	}

	w.batchMu.Lock()
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed updates",
		"books", len(bookBatch),
		"trades", len(tradeBatch),
		"duration", time.Since(start),
	)
}

// batchInsertBooks inserts book rows with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsertBooks(rows []bookRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO book_updates (updated_at, ticker, best_bid, best_ask, last_trade_price, crossed)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (ticker, updated_at) DO NOTHING
		`, r.UpdatedAt, r.Ticker, r.BestBid, r.BestAsk, r.LastTradePrice, r.Crossed)
	}

	results := w.db.SendBatch(w.ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}

// batchInsertTrades inserts trade rows with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsertTrades(rows []tradeRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO trades (trade_id, exchange_ts, received_at, ticker, price, size, taker_side)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (trade_id) DO NOTHING
		`, r.TradeID, r.ExchangeTs, r.ReceivedAt, r.Ticker, r.Price, r.Size, r.TakerSide)
	}

	results := w.db.SendBatch(w.ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
