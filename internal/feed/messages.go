package feed

import (
	"time"

	"github.com/rickgao/kalshi-sync/internal/model"
)

// Message is one decoded feed message. The concrete types form a closed set:
// Snapshot, Delta, Trade, Unknown.
type Message interface {
	// Market returns the market ticker the message applies to, or "" for
	// messages that carry none.
	Market() string

	kind()
}

// Snapshot is a full replacement of one or both book sides for a market.
type Snapshot struct {
	MarketID   string
	Bids       []model.PriceLevel // YES levels, internal price units
	Asks       []model.PriceLevel // derived from NO levels, internal price units
	Seq        int64
	ReceivedAt time.Time
}

// Delta is an incremental size change at one price level on one side.
type Delta struct {
	MarketID   string
	Side       model.BookSide
	Price      int // internal price units
	SizeDelta  int
	Seq        int64
	ExchangeTS int64 // µs since epoch
	ReceivedAt time.Time
}

// Trade is an executed trade tick. Price is YES-denominated.
type Trade struct {
	MarketID   string
	TradeID    string
	Side       model.BookSide
	Price      int // internal price units
	Size       int
	ExchangeTS int64 // µs since epoch
	ReceivedAt time.Time
}

// Unknown is a message whose type discriminator is not one the synchronizer
// consumes (subscription acks, errors, future message kinds).
type Unknown struct {
	Type       string
	Raw        []byte
	ReceivedAt time.Time
}

func (m Snapshot) Market() string { return m.MarketID }
func (m Delta) Market() string    { return m.MarketID }
func (m Trade) Market() string    { return m.MarketID }
func (m Unknown) Market() string  { return "" }

func (Snapshot) kind() {}
func (Delta) kind()    {}
func (Trade) kind()    {}
func (Unknown) kind()  {}
