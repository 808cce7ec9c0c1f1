package connection

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected   = errors.New("not connected")
	ErrTimeout        = errors.New("operation timeout")
	ErrAlreadyClosed  = errors.New("already closed")
	ErrPongTimeout    = errors.New("pong not received in time")
	ErrTerminalClose  = errors.New("non-retryable close code")
	ErrAlreadyRunning = errors.New("connection already established")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Transport is one WebSocket connection to the exchange. The production
// implementation is Client; tests substitute fakes.
type Transport interface {
	// Connect establishes the WebSocket connection.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection. The close handshake gets a
	// short deadline; resources are released regardless of its outcome.
	Close() error

	// Send writes raw bytes to the connection.
	Send(data []byte) error

	// Ping sends a keepalive probe and blocks until the acknowledgment
	// arrives or ctx expires (ErrPongTimeout).
	Ping(ctx context.Context) error

	// Messages returns a channel of raw inbound messages.
	Messages() <-chan TimestampedMessage

	// Errors returns a channel of transport errors.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool

	// CloseCode returns the close code received from the peer, if any.
	CloseCode() (int, bool)
}

// TransportEvent is an externally observed transport-level condition fed
// into the lifecycle manager (a read error, a close frame, a timeout).
type TransportEvent struct {
	Err       error
	CloseCode int // 0 = no close frame observed
}

// Command is a WebSocket command to send to the server.
type Command struct {
	ID     int64       `json:"id"`
	Cmd    string      `json:"cmd"`
	Params interface{} `json:"params"`
}

// SubscribeParams are parameters for a subscribe command.
type SubscribeParams struct {
	Channels      []string `json:"channels"`
	MarketTickers []string `json:"market_tickers,omitempty"`
}

// Response is a command response from the server.
type Response struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"` // "subscribed", "unsubscribed", "error", "ok"
	Msg  json.RawMessage `json:"msg"`
}

// ErrorMsg is the message content for an "error" response.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL
	APIKey           string        // Bearer token (empty = no auth)
	HandshakeTimeout time.Duration // Dial deadline
	WriteTimeout     time.Duration // Write deadline for sends
	CloseTimeout     time.Duration // Deadline for the close handshake
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		CloseTimeout:     time.Second,
		BufferSize:       100000,
	}
}

// HealthConfig configures the keepalive monitor.
type HealthConfig struct {
	PingInterval time.Duration // Probe cadence
	PongTimeout  time.Duration // Max wait for a probe acknowledgment
}

// DefaultHealthConfig returns sensible defaults.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		PingInterval: 15 * time.Second,
		PongTimeout:  5 * time.Second,
	}
}

// ManagerConfig configures one service's lifecycle manager.
type ManagerConfig struct {
	ServiceName          string        // Store key for this logical connection
	URL                  string        // WebSocket URL
	APIKey               string        // Bearer token (empty = no auth)
	Channels             []string      // Channels to subscribe on READY
	MarketTickers        []string      // Optional per-market subscriptions
	SubscribeTimeout     time.Duration // Timeout for the subscribe handshake
	ReconnectMinInterval time.Duration // First retry delay
	ReconnectMaxInterval time.Duration // Retry delay ceiling
	ReconnectMultiplier  float64       // Backoff growth per consecutive failure
	TerminalCloseCodes   []int         // Close codes that drive FAILED
	Health               HealthConfig  // Keepalive probe settings
	HealthCheckInterval  time.Duration // Receive-loop health tick
	MetricsFlushInterval time.Duration // Cadence for mirroring counters to the store
	MessageBufferSize    int           // Transport message channel size
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		SubscribeTimeout:     10 * time.Second,
		ReconnectMinInterval: time.Second,
		ReconnectMaxInterval: 60 * time.Second,
		ReconnectMultiplier:  2,
		TerminalCloseCodes:   []int{1002, 1003, 1007, 1008},
		Health:               DefaultHealthConfig(),
		HealthCheckInterval:  5 * time.Second,
		MetricsFlushInterval: 30 * time.Second,
		MessageBufferSize:    100000,
	}
}
