package writer

import (
	"testing"

	"github.com/google/uuid"

	"github.com/rickgao/kalshi-sync/internal/book"
	"github.com/rickgao/kalshi-sync/internal/model"
)

func TestTransformBook(t *testing.T) {
	u := book.Update{
		Book: model.MarketBook{
			MarketID:       "PRES-2028",
			BestBid:        52000,
			BestAsk:        54000,
			LastTradePrice: 53000,
			LastUpdateAt:   1700000000000000,
		},
		Crossed: false,
	}

	row := transformBook(u)

	if row.Ticker != "PRES-2028" {
		t.Errorf("Ticker = %q, want %q", row.Ticker, "PRES-2028")
	}
	if row.BestBid != 52000 || row.BestAsk != 54000 {
		t.Errorf("best prices = %d/%d, want 52000/54000", row.BestBid, row.BestAsk)
	}
	if row.LastTradePrice != 53000 {
		t.Errorf("LastTradePrice = %d, want 53000", row.LastTradePrice)
	}
	if row.UpdatedAt != 1700000000000000 {
		t.Errorf("UpdatedAt = %d, want 1700000000000000", row.UpdatedAt)
	}
	if row.Crossed {
		t.Error("Crossed = true, want false")
	}
}

func TestTransformBookKeepsCrossedFlag(t *testing.T) {
	u := book.Update{
		Book:    model.MarketBook{MarketID: "PRES-2028", BestBid: 55000, BestAsk: 54000},
		Crossed: true,
	}

	if row := transformBook(u); !row.Crossed {
		t.Error("crossed flag lost in transform")
	}
}

func TestTransformTrade(t *testing.T) {
	id := uuid.New()
	u := book.Update{
		Book: model.MarketBook{MarketID: "PRES-2028"},
		Trade: &model.Trade{
			TradeID:    id,
			ExchangeTS: 1700000000000000,
			ReceivedAt: 1700000000100000,
			Ticker:     "PRES-2028",
			Price:      53000,
			Size:       10,
			TakerSide:  true,
		},
	}

	row := transformTrade(u)

	if row.TradeID != id.String() {
		t.Errorf("TradeID = %q, want %q", row.TradeID, id.String())
	}
	if row.ExchangeTs != 1700000000000000 {
		t.Errorf("ExchangeTs = %d, want 1700000000000000", row.ExchangeTs)
	}
	if row.Price != 53000 || row.Size != 10 {
		t.Errorf("price/size = %d/%d, want 53000/10", row.Price, row.Size)
	}
	if !row.TakerSide {
		t.Error("TakerSide = false, want true")
	}
}

func TestHandleUpdateBatching(t *testing.T) {
	input := book.NewQueue[book.Update](16)
	cfg := DefaultConfig()
	cfg.BatchSize = 100 // Never reached in this test, so flush never fires.
	w := New(cfg, input, nil, nil)

	w.handleUpdate(book.Update{Book: model.MarketBook{MarketID: "A"}})
	w.handleUpdate(book.Update{
		Book:  model.MarketBook{MarketID: "B"},
		Trade: &model.Trade{TradeID: uuid.New(), Ticker: "B", Price: 1000, Size: 1},
	})

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	if len(w.bookBatch) != 2 {
		t.Errorf("bookBatch length = %d, want 2", len(w.bookBatch))
	}
	if len(w.tradeBatch) != 1 {
		t.Errorf("tradeBatch length = %d, want 1", len(w.tradeBatch))
	}
}
