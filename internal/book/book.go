package book

import (
	"sort"
	"sync"

	"github.com/rickgao/kalshi-sync/internal/model"
)

// marketState holds the mutable book for one market. All access goes through
// mu so every committed update is visible as a whole.
type marketState struct {
	mu sync.Mutex

	marketID string
	bids     map[int]int // price → size, size always > 0
	asks     map[int]int

	bestBid        int // 0 = side empty
	bestAsk        int
	lastTradePrice int
	lastUpdateAt   int64 // µs since epoch
}

func newMarketState(marketID string) *marketState {
	return &marketState{
		marketID: marketID,
		bids:     make(map[int]int),
		asks:     make(map[int]int),
	}
}

// sideLevels returns the level map for the given side. Caller holds mu.
func (m *marketState) sideLevels(side model.BookSide) map[int]int {
	if side == model.SideBid {
		return m.bids
	}
	return m.asks
}

// replaceSide swaps in a whole new level set for one side. Caller holds mu.
func (m *marketState) replaceSide(side model.BookSide, levels []model.PriceLevel) {
	fresh := make(map[int]int, len(levels))
	for _, lv := range levels {
		if lv.Size <= 0 {
			continue
		}
		fresh[lv.Price] = lv.Size
	}
	if side == model.SideBid {
		m.bids = fresh
	} else {
		m.asks = fresh
	}
}

// applyDelta adjusts one level and reports whether the side's best price
// changed. Caller holds mu.
func (m *marketState) applyDelta(side model.BookSide, price, sizeDelta int) (bestChanged bool) {
	levels := m.sideLevels(side)

	next := levels[price] + sizeDelta
	if next <= 0 {
		delete(levels, price)
	} else {
		levels[price] = next
	}

	prev := m.best(side)
	m.recomputeBest(side)
	return m.best(side) != prev
}

// best returns the current best price for a side. Caller holds mu.
func (m *marketState) best(side model.BookSide) int {
	if side == model.SideBid {
		return m.bestBid
	}
	return m.bestAsk
}

// recomputeBest rescans one side's levels. Caller holds mu.
func (m *marketState) recomputeBest(side model.BookSide) {
	best := 0
	if side == model.SideBid {
		for price := range m.bids {
			if price > best {
				best = price
			}
		}
		m.bestBid = best
	} else {
		for price := range m.asks {
			if best == 0 || price < best {
				best = price
			}
		}
		m.bestAsk = best
	}
}

// view copies the committed state into an immutable MarketBook. Caller
// holds mu.
func (m *marketState) view() model.MarketBook {
	bids := make([]model.PriceLevel, 0, len(m.bids))
	for price, size := range m.bids {
		bids = append(bids, model.PriceLevel{Price: price, Size: size})
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })

	asks := make([]model.PriceLevel, 0, len(m.asks))
	for price, size := range m.asks {
		asks = append(asks, model.PriceLevel{Price: price, Size: size})
	}
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })

	return model.MarketBook{
		MarketID:       m.marketID,
		Bids:           bids,
		Asks:           asks,
		BestBid:        m.bestBid,
		BestAsk:        m.bestAsk,
		LastTradePrice: m.lastTradePrice,
		LastUpdateAt:   m.lastUpdateAt,
	}
}
