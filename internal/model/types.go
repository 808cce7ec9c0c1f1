package model

import (
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Connection State
// -----------------------------------------------------------------------------

// ConnectionState is the lifecycle state of one logical service connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected" // transport open, handshake pending
	StateReady        ConnectionState = "ready"     // transport open, subscriptions confirmed
	StateReconnecting ConnectionState = "reconnecting"
	StateStopping     ConnectionState = "stopping"
	StateStopped      ConnectionState = "stopped"
	StateFailed       ConnectionState = "failed" // terminal, operator intervention required
)

// Valid reports whether s is a known connection state.
func (s ConnectionState) Valid() bool {
	switch s {
	case StateDisconnected, StateConnecting, StateConnected, StateReady,
		StateReconnecting, StateStopping, StateStopped, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal state (no further transitions).
func (s ConnectionState) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// ConnectionStateRecord is the durable record of a service's connection state.
// Written as a whole record on every transition (replace, not merge).
type ConnectionStateRecord struct {
	ServiceName              string          `json:"service_name"`
	State                    ConnectionState `json:"state"`
	StateChangedAt           int64           `json:"state_changed_at"` // µs since epoch
	InReconnection           bool            `json:"in_reconnection"`
	ReconnectionStartTime    int64           `json:"reconnection_start_time,omitempty"`    // µs since epoch, 0 = unset
	LastSuccessfulConnection int64           `json:"last_successful_connection,omitempty"` // µs since epoch, 0 = never
	ConsecutiveFailures      int             `json:"consecutive_failures"`
}

// ReconnectionEventType classifies a reconnection event.
type ReconnectionEventType string

const (
	EventReconnectStart   ReconnectionEventType = "start"
	EventReconnectSuccess ReconnectionEventType = "success"
	EventReconnectFailure ReconnectionEventType = "failure"
)

// ReconnectionEvent is one entry in a service's append-only reconnection log.
type ReconnectionEvent struct {
	ServiceName string                `json:"service_name"`
	EventType   ReconnectionEventType `json:"event_type"`
	Timestamp   int64                 `json:"timestamp"` // µs since epoch
	Details     string                `json:"details,omitempty"`
}

// ServiceMetrics holds per-service feed counters mirrored to the store.
type ServiceMetrics struct {
	ServiceName      string `json:"service_name"`
	MessagesReceived int64  `json:"messages_received"`
	MessagesDropped  int64  `json:"messages_dropped"`
	Reconnections    int64  `json:"reconnections"`
	LastMessageAt    int64  `json:"last_message_at"` // µs since epoch
	UpdatedAt        int64  `json:"updated_at"`      // µs since epoch
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

// HealthReason classifies why a health check failed.
type HealthReason string

const (
	HealthConnectionMissing  HealthReason = "connection_missing"
	HealthConnectionClosed   HealthReason = "connection_closed"
	HealthPongTimeout        HealthReason = "pong_timeout"
	HealthPongStale          HealthReason = "pong_stale"
	HealthTransportException HealthReason = "transport_exception"
)

// HealthCheckResult is the classified outcome of one keepalive check.
// Ephemeral: consumed immediately by the lifecycle manager, never persisted.
type HealthCheckResult struct {
	Healthy bool
	Reason  HealthReason // set only when !Healthy
	Detail  string       // transport exception message, if any
}

// Error renders the failure reason in "reason" or "reason:<detail>" form.
func (r HealthCheckResult) Error() string {
	if r.Healthy {
		return ""
	}
	if r.Detail == "" {
		return string(r.Reason)
	}
	return string(r.Reason) + ":" + r.Detail
}

// -----------------------------------------------------------------------------
// Order Book
// -----------------------------------------------------------------------------

// BookSide identifies one side of an order book.
type BookSide string

const (
	SideBid BookSide = "bid"
	SideAsk BookSide = "ask"
)

// Valid reports whether s is a known book side.
func (s BookSide) Valid() bool {
	return s == SideBid || s == SideAsk
}

// PriceLevel represents a single price level in an orderbook.
type PriceLevel struct {
	Price int // Price (hundred-thousandths, 0-100,000)
	Size  int // Quantity at this price, always > 0
}

// MarketBook is the committed, point-in-time consistent view of one market's
// book. Bids are sorted descending, asks ascending. A best price of 0 means
// the side is empty.
type MarketBook struct {
	MarketID       string
	Bids           []PriceLevel
	Asks           []PriceLevel
	BestBid        int
	BestAsk        int
	LastTradePrice int
	LastUpdateAt   int64 // µs since epoch
}

// Crossed reports whether both sides are non-empty and bid >= ask.
func (b MarketBook) Crossed() bool {
	return b.BestBid > 0 && b.BestAsk > 0 && b.BestBid >= b.BestAsk
}

// Trade represents an executed trade.
type Trade struct {
	TradeID    uuid.UUID // Primary key (from the exchange)
	ExchangeTS int64     // Exchange server timestamp (µs since epoch)
	ReceivedAt int64     // Local receive timestamp (µs since epoch)
	Ticker     string    // Market ticker
	Price      int       // Trade price (hundred-thousandths, 0-100,000)
	Size       int       // Number of contracts
	TakerSide  bool      // true = YES taker, false = NO taker
}

// -----------------------------------------------------------------------------
// Alerting
// -----------------------------------------------------------------------------

// SuppressionDecision is the per-alert outcome of the alert gate.
type SuppressionDecision struct {
	ShouldSuppress       bool
	Reason               string
	ServiceName          string
	AlertType            string
	SuppressionDuration  time.Duration // how long the service has been reconnecting
	GracePeriodRemaining time.Duration // remaining grace window, floored at zero
	DecidedAt            int64         // µs since epoch
}
