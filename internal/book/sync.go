package book

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/kalshi-sync/internal/feed"
	"github.com/rickgao/kalshi-sync/internal/metrics"
	"github.com/rickgao/kalshi-sync/internal/model"
)

// Errors returned for rejected updates. A rejected update never leaves a
// partial write behind.
var (
	ErrSideAbsent   = errors.New("side payload absent")
	ErrInvalidSide  = errors.New("invalid book side")
	ErrInvalidPrice = errors.New("invalid price")
	ErrInvalidTrade = errors.New("invalid trade")
)

// Update is one committed change to a market's book, delivered to downstream
// consumers at most once per applied message.
type Update struct {
	Book    model.MarketBook
	Trade   *model.Trade // set when the update came from a trade tick
	Crossed bool         // data-quality flag, the update is committed anyway
}

// Stats counts synchronizer activity.
type Stats struct {
	SnapshotsApplied int64
	DeltasApplied    int64
	TradesApplied    int64
	Rejected         int64
	CrossedBooks     int64
}

// Synchronizer maintains one consistent order book per market.
type Synchronizer struct {
	logger *slog.Logger

	mu      sync.RWMutex
	markets map[string]*marketState

	updates *Queue[Update]

	statsMu sync.Mutex
	stats   Stats

	now func() time.Time
}

// NewSynchronizer creates an Order Book Synchronizer.
func NewSynchronizer(updateBufferSize int, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		logger:  logger,
		markets: make(map[string]*marketState),
		updates: NewQueue[Update](updateBufferSize),
		now:     time.Now,
	}
}

// Updates returns the queue of committed book updates for downstream
// consumers (persistence, pricing).
func (s *Synchronizer) Updates() *Queue[Update] {
	return s.updates
}

// Close closes the update queue. Consumers drain remaining updates first.
func (s *Synchronizer) Close() {
	s.updates.Close()
}

// Stats returns current counters.
func (s *Synchronizer) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// Book returns a point-in-time consistent copy of one market's book.
func (s *Synchronizer) Book(marketID string) (model.MarketBook, bool) {
	s.mu.RLock()
	m, ok := s.markets[marketID]
	s.mu.RUnlock()
	if !ok {
		return model.MarketBook{}, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view(), true
}

// Apply dispatches one decoded feed message to the matching operation.
func (s *Synchronizer) Apply(msg feed.Message) error {
	switch m := msg.(type) {
	case feed.Snapshot:
		return s.applySnapshotMsg(m)
	case feed.Delta:
		return s.ApplyDelta(m.MarketID, m.Side, m.Price, m.SizeDelta)
	case feed.Trade:
		return s.ApplyTrade(m.MarketID, m.Side, m.Price, m.Size, m.TradeID, m.ExchangeTS)
	case feed.Unknown:
		s.logger.Debug("skipping message type", "type", m.Type)
		return nil
	default:
		return fmt.Errorf("unhandled feed message %T", msg)
	}
}

// applySnapshotMsg applies each side present in the snapshot payload.
// A snapshot carrying neither side is rejected outright.
func (s *Synchronizer) applySnapshotMsg(m feed.Snapshot) error {
	if m.Bids == nil && m.Asks == nil {
		s.reject()
		s.logger.Warn("snapshot carries no side payload", "market", m.MarketID)
		return ErrSideAbsent
	}
	if m.Bids != nil {
		if err := s.ApplySnapshot(m.MarketID, model.SideBid, m.Bids); err != nil {
			return err
		}
	}
	if m.Asks != nil {
		if err := s.ApplySnapshot(m.MarketID, model.SideAsk, m.Asks); err != nil {
			return err
		}
	}
	return nil
}

// ApplySnapshot replaces the named side's levels wholesale, leaving the
// other side untouched, then recomputes that side's best price. Rejects a
// nil payload, an invalid side, or a malformed level without persisting
// anything.
func (s *Synchronizer) ApplySnapshot(marketID string, side model.BookSide, levels []model.PriceLevel) error {
	if levels == nil {
		s.reject()
		s.logger.Warn("snapshot side payload absent", "market", marketID, "side", side)
		return ErrSideAbsent
	}
	if !side.Valid() {
		s.reject()
		s.logger.Warn("snapshot with invalid side", "market", marketID, "side", side)
		return ErrInvalidSide
	}
	for _, lv := range levels {
		if lv.Price < 0 {
			s.reject()
			s.logger.Warn("snapshot with malformed level",
				"market", marketID,
				"side", side,
				"price", lv.Price,
			)
			return ErrInvalidPrice
		}
	}

	m := s.market(marketID)
	m.mu.Lock()
	m.replaceSide(side, levels)
	m.recomputeBest(side)
	m.lastUpdateAt = s.now().UnixMicro()
	crossed := s.checkCrossed(m)
	update := Update{Book: m.view(), Crossed: crossed}
	m.mu.Unlock()

	s.statsMu.Lock()
	s.stats.SnapshotsApplied++
	s.statsMu.Unlock()
	metrics.BookUpdates.WithLabelValues("snapshot").Inc()

	s.updates.Push(update)
	return nil
}

// ApplyDelta adjusts a single level: new size = existing + sizeDelta, with
// sizes <= 0 removed. A market or side with no prior snapshot is lazily
// initialized empty. Downstream consumers are notified exactly once per
// delta that moved the side's best price.
func (s *Synchronizer) ApplyDelta(marketID string, side model.BookSide, price, sizeDelta int) error {
	if !side.Valid() {
		s.reject()
		s.logger.Warn("delta with invalid side", "market", marketID, "side", side)
		return ErrInvalidSide
	}
	if price < 0 {
		s.reject()
		s.logger.Warn("delta with invalid price", "market", marketID, "price", price)
		return ErrInvalidPrice
	}

	m := s.market(marketID)
	m.mu.Lock()
	bestChanged := m.applyDelta(side, price, sizeDelta)
	var update Update
	if bestChanged {
		m.lastUpdateAt = s.now().UnixMicro()
		update = Update{Book: m.view(), Crossed: s.checkCrossed(m)}
	}
	m.mu.Unlock()

	s.statsMu.Lock()
	s.stats.DeltasApplied++
	s.statsMu.Unlock()
	metrics.BookUpdates.WithLabelValues("delta").Inc()

	if bestChanged {
		s.updates.Push(update)
	}
	return nil
}

// ApplyTrade updates the market's last trade price independently of the book
// sides. An invalid trade tick is logged and ignored; it must not corrupt
// the book.
func (s *Synchronizer) ApplyTrade(marketID string, side model.BookSide, price, size int, tradeID string, exchangeTS int64) error {
	if !side.Valid() || price <= 0 || size <= 0 {
		s.reject()
		s.logger.Warn("ignoring invalid trade tick",
			"market", marketID,
			"side", side,
			"price", price,
			"size", size,
		)
		return ErrInvalidTrade
	}

	// Exchange trade IDs are UUIDs; tolerate a missing or malformed one by
	// minting a local ID so the tick still flows downstream.
	id, err := uuid.Parse(tradeID)
	if err != nil {
		id = uuid.New()
	}

	now := s.now().UnixMicro()
	trade := model.Trade{
		TradeID:    id,
		ExchangeTS: exchangeTS,
		ReceivedAt: now,
		Ticker:     marketID,
		Price:      price,
		Size:       size,
		TakerSide:  side == model.SideBid,
	}

	m := s.market(marketID)
	m.mu.Lock()
	m.lastTradePrice = price
	m.lastUpdateAt = now
	update := Update{Book: m.view(), Trade: &trade}
	m.mu.Unlock()

	s.statsMu.Lock()
	s.stats.TradesApplied++
	s.statsMu.Unlock()
	metrics.BookUpdates.WithLabelValues("trade").Inc()

	s.updates.Push(update)
	return nil
}

// market returns the state for marketID, creating it on first use. Feeds may
// send deltas before a full snapshot is observed.
func (s *Synchronizer) market(marketID string) *marketState {
	s.mu.RLock()
	m, ok := s.markets[marketID]
	s.mu.RUnlock()
	if ok {
		return m
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok = s.markets[marketID]; ok {
		return m
	}
	m = newMarketState(marketID)
	s.markets[marketID] = m
	return m
}

// checkCrossed flags a crossed book. The offending update is still committed
// because it reflects what the exchange actually sent. Caller holds m.mu.
func (s *Synchronizer) checkCrossed(m *marketState) bool {
	if m.bestBid > 0 && m.bestAsk > 0 && m.bestBid >= m.bestAsk {
		s.logger.Error("crossed book detected",
			"market", m.marketID,
			"best_bid", m.bestBid,
			"best_ask", m.bestAsk,
		)
		s.statsMu.Lock()
		s.stats.CrossedBooks++
		s.statsMu.Unlock()
		metrics.CrossedBooks.Inc()
		return true
	}
	return false
}

func (s *Synchronizer) reject() {
	s.statsMu.Lock()
	s.stats.Rejected++
	s.statsMu.Unlock()
}
