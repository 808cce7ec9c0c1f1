package book

import (
	"errors"
	"testing"
	"time"

	"github.com/rickgao/kalshi-sync/internal/feed"
	"github.com/rickgao/kalshi-sync/internal/model"
)

func newTestSynchronizer() *Synchronizer {
	s := NewSynchronizer(64, nil)
	fixed := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	return s
}

func levels(pairs ...[2]int) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, model.PriceLevel{Price: p[0], Size: p[1]})
	}
	return out
}

func TestSnapshotThenDeltas(t *testing.T) {
	s := newTestSynchronizer()

	if err := s.ApplySnapshot("M", model.SideBid, levels([2]int{52000, 100}, [2]int{51000, 200})); err != nil {
		t.Fatalf("ApplySnapshot bids: %v", err)
	}
	if err := s.ApplySnapshot("M", model.SideAsk, levels([2]int{54000, 150})); err != nil {
		t.Fatalf("ApplySnapshot asks: %v", err)
	}

	// Remove the best bid level entirely.
	if err := s.ApplyDelta("M", model.SideBid, 52000, -100); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	// Add to a new ask level below the current best.
	if err := s.ApplyDelta("M", model.SideAsk, 53000, 50); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}

	book, ok := s.Book("M")
	if !ok {
		t.Fatal("Book returned no market")
	}
	if book.BestBid != 51000 {
		t.Errorf("BestBid = %d, want 51000 after removal", book.BestBid)
	}
	if book.BestAsk != 53000 {
		t.Errorf("BestAsk = %d, want 53000 after insert", book.BestAsk)
	}
	if len(book.Bids) != 1 || len(book.Asks) != 2 {
		t.Errorf("levels = %d bids / %d asks, want 1/2", len(book.Bids), len(book.Asks))
	}
}

func TestSnapshotReplacesSideWholesale(t *testing.T) {
	s := newTestSynchronizer()

	s.ApplySnapshot("M", model.SideBid, levels([2]int{52000, 100}, [2]int{51000, 200}))
	s.ApplySnapshot("M", model.SideAsk, levels([2]int{54000, 150}))

	// A later bid snapshot wipes all previous bid levels but leaves asks alone.
	s.ApplySnapshot("M", model.SideBid, levels([2]int{50000, 10}))

	book, _ := s.Book("M")
	if len(book.Bids) != 1 || book.Bids[0].Price != 50000 {
		t.Errorf("Bids = %+v, want single replaced level at 50000", book.Bids)
	}
	if book.BestBid != 50000 {
		t.Errorf("BestBid = %d, want 50000", book.BestBid)
	}
	if len(book.Asks) != 1 || book.BestAsk != 54000 {
		t.Errorf("Asks = %+v BestAsk = %d, want untouched ask side", book.Asks, book.BestAsk)
	}
}

func TestSnapshotIdempotent(t *testing.T) {
	s := newTestSynchronizer()
	snap := levels([2]int{52000, 100}, [2]int{51000, 200})

	s.ApplySnapshot("M", model.SideBid, snap)
	first, _ := s.Book("M")
	s.ApplySnapshot("M", model.SideBid, snap)
	second, _ := s.Book("M")

	if first.BestBid != second.BestBid || len(first.Bids) != len(second.Bids) {
		t.Errorf("re-applying the same snapshot changed the book: %+v vs %+v", first, second)
	}
}

func TestSnapshotEmptyReplacesWithEmpty(t *testing.T) {
	s := newTestSynchronizer()
	s.ApplySnapshot("M", model.SideBid, levels([2]int{52000, 100}))

	if err := s.ApplySnapshot("M", model.SideBid, []model.PriceLevel{}); err != nil {
		t.Fatalf("empty snapshot rejected: %v", err)
	}

	book, _ := s.Book("M")
	if len(book.Bids) != 0 || book.BestBid != 0 {
		t.Errorf("Bids = %+v BestBid = %d, want empty side", book.Bids, book.BestBid)
	}
}

func TestSnapshotRejectsNilAndInvalid(t *testing.T) {
	s := newTestSynchronizer()

	if err := s.ApplySnapshot("M", model.SideBid, nil); !errors.Is(err, ErrSideAbsent) {
		t.Errorf("nil payload error = %v, want ErrSideAbsent", err)
	}
	if err := s.ApplySnapshot("M", "sideways", levels([2]int{1, 1})); !errors.Is(err, ErrInvalidSide) {
		t.Errorf("invalid side error = %v, want ErrInvalidSide", err)
	}
	if err := s.ApplySnapshot("M", model.SideBid, levels([2]int{-5, 1})); !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("negative price error = %v, want ErrInvalidPrice", err)
	}

	// Nothing was committed.
	if _, ok := s.Book("M"); ok {
		t.Error("rejected snapshots must not create market state")
	}
}

func TestDeltaRemovesLevelAtZeroOrBelow(t *testing.T) {
	s := newTestSynchronizer()
	s.ApplySnapshot("M", model.SideBid, levels([2]int{52000, 100}))

	// Oversized removal still deletes the level, never stores a negative size.
	s.ApplyDelta("M", model.SideBid, 52000, -150)

	book, _ := s.Book("M")
	if len(book.Bids) != 0 {
		t.Errorf("Bids = %+v, want level removed", book.Bids)
	}
}

func TestDeltaBeforeSnapshotInitializesMarket(t *testing.T) {
	s := newTestSynchronizer()

	if err := s.ApplyDelta("M", model.SideAsk, 54000, 25); err != nil {
		t.Fatalf("ApplyDelta on unseen market: %v", err)
	}

	book, ok := s.Book("M")
	if !ok {
		t.Fatal("market not lazily initialized")
	}
	if book.BestAsk != 54000 {
		t.Errorf("BestAsk = %d, want 54000", book.BestAsk)
	}
}

func TestDeltaNotifiesOncePerBestChange(t *testing.T) {
	s := newTestSynchronizer()
	s.ApplySnapshot("M", model.SideBid, levels([2]int{52000, 100}))
	drainUpdates(s) // discard the snapshot notification

	s.ApplyDelta("M", model.SideBid, 52000, 10)  // size change, best unchanged
	s.ApplyDelta("M", model.SideBid, 53000, 10)  // new best
	s.ApplyDelta("M", model.SideBid, 51000, 10)  // below best

	updates := drainUpdates(s)
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1 (only the best-price change)", len(updates))
	}
	if updates[0].Book.BestBid != 53000 {
		t.Errorf("notified BestBid = %d, want 53000", updates[0].Book.BestBid)
	}
}

func TestCrossedBookFlaggedButCommitted(t *testing.T) {
	s := newTestSynchronizer()
	s.ApplySnapshot("M", model.SideAsk, levels([2]int{54000, 100}))
	drainUpdates(s)

	// Bid arrives above the ask: flagged, still committed.
	if err := s.ApplyDelta("M", model.SideBid, 55000, 10); err != nil {
		t.Fatalf("crossed update rejected: %v", err)
	}

	updates := drainUpdates(s)
	if len(updates) != 1 || !updates[0].Crossed {
		t.Fatalf("updates = %+v, want one crossed update", updates)
	}

	book, _ := s.Book("M")
	if book.BestBid != 55000 {
		t.Errorf("BestBid = %d, crossed update must still commit", book.BestBid)
	}
	if s.Stats().CrossedBooks != 1 {
		t.Errorf("CrossedBooks = %d, want 1", s.Stats().CrossedBooks)
	}
}

func TestApplyTrade(t *testing.T) {
	s := newTestSynchronizer()
	s.ApplySnapshot("M", model.SideBid, levels([2]int{52000, 100}))
	drainUpdates(s)

	err := s.ApplyTrade("M", model.SideBid, 53000, 10, "7f9c24e8-3b2a-4d5c-9e1f-8a6b5c4d3e2f", 1700000000000000)
	if err != nil {
		t.Fatalf("ApplyTrade: %v", err)
	}

	book, _ := s.Book("M")
	if book.LastTradePrice != 53000 {
		t.Errorf("LastTradePrice = %d, want 53000", book.LastTradePrice)
	}
	// The book sides are untouched by a trade tick.
	if book.BestBid != 52000 {
		t.Errorf("BestBid = %d, want unchanged 52000", book.BestBid)
	}

	updates := drainUpdates(s)
	if len(updates) != 1 || updates[0].Trade == nil {
		t.Fatalf("updates = %+v, want one update carrying the trade", updates)
	}
	if updates[0].Trade.TradeID.String() != "7f9c24e8-3b2a-4d5c-9e1f-8a6b5c4d3e2f" {
		t.Errorf("TradeID = %s, want parsed exchange id", updates[0].Trade.TradeID)
	}
}

func TestInvalidTradeIgnored(t *testing.T) {
	s := newTestSynchronizer()
	s.ApplySnapshot("M", model.SideBid, levels([2]int{52000, 100}))

	if err := s.ApplyTrade("M", model.SideBid, 0, 10, "x", 0); !errors.Is(err, ErrInvalidTrade) {
		t.Errorf("zero price error = %v, want ErrInvalidTrade", err)
	}
	if err := s.ApplyTrade("M", model.SideBid, 53000, 0, "x", 0); !errors.Is(err, ErrInvalidTrade) {
		t.Errorf("zero size error = %v, want ErrInvalidTrade", err)
	}

	book, _ := s.Book("M")
	if book.LastTradePrice != 0 {
		t.Errorf("LastTradePrice = %d, invalid trade must not commit", book.LastTradePrice)
	}
}

func TestApplyDispatchesFeedMessages(t *testing.T) {
	s := newTestSynchronizer()
	now := time.Now()

	msgs := []feed.Message{
		feed.Snapshot{
			MarketID:   "M",
			Bids:       levels([2]int{52000, 100}),
			Asks:       levels([2]int{54000, 50}),
			ReceivedAt: now,
		},
		feed.Delta{MarketID: "M", Side: model.SideBid, Price: 53000, SizeDelta: 10, ReceivedAt: now},
		feed.Trade{MarketID: "M", Side: model.SideBid, Price: 53000, Size: 5, ReceivedAt: now},
		feed.Unknown{Type: "subscribed", ReceivedAt: now},
	}
	for _, m := range msgs {
		if err := s.Apply(m); err != nil {
			t.Fatalf("Apply(%T): %v", m, err)
		}
	}

	stats := s.Stats()
	if stats.SnapshotsApplied != 2 { // one per side of the snapshot payload
		t.Errorf("SnapshotsApplied = %d, want 2", stats.SnapshotsApplied)
	}
	if stats.DeltasApplied != 1 || stats.TradesApplied != 1 {
		t.Errorf("deltas/trades = %d/%d, want 1/1", stats.DeltasApplied, stats.TradesApplied)
	}
}

func TestBookReturnsConsistentCopy(t *testing.T) {
	s := newTestSynchronizer()
	s.ApplySnapshot("M", model.SideBid, levels([2]int{52000, 100}, [2]int{51000, 200}))

	book, _ := s.Book("M")
	book.Bids[0].Size = 999999

	fresh, _ := s.Book("M")
	if fresh.Bids[0].Size == 999999 {
		t.Error("Book() must return a copy, not a live view")
	}
}

func drainUpdates(s *Synchronizer) []Update {
	return s.updates.DrainTo(1024)
}
