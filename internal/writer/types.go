package writer

import (
	"time"
)

// Config contains configuration for the batch writer.
type Config struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// DrainChunk bounds how many queued updates one consume cycle takes.
	DrainChunk int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     1000,
		FlushInterval: time.Second,
		DrainChunk:    512,
	}
}

// bookRow represents a row for the book_updates table (top of book).
type bookRow struct {
	UpdatedAt      int64 // Microseconds
	Ticker         string
	BestBid        int // Hundred-thousandths (0-100,000)
	BestAsk        int
	LastTradePrice int
	Crossed        bool
}

// tradeRow represents a row for the trades table.
type tradeRow struct {
	TradeID    string // UUID
	ExchangeTs int64  // Microseconds
	ReceivedAt int64  // Microseconds
	Ticker     string
	Price      int // Hundred-thousandths
	Size       int
	TakerSide  bool // TRUE = yes, FALSE = no
}

// Metrics holds counters for the writer.
type Metrics struct {
	BookInserts  int64
	TradeInserts int64
	Conflicts    int64
	Errors       int64
	Flushes      int64
}
