package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/kalshi-sync/internal/model"
)

// fakeTransport is a controllable Transport for monitor and manager tests.
type fakeTransport struct {
	mu         sync.Mutex
	connectErr error
	pingErr    error
	sendErr    error
	connected  bool
	closed     bool
	closeCode  int
	hasClose   bool
	pings      int
	sent       [][]byte

	messages chan TimestampedMessage
	errs     chan error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		messages: make(chan TimestampedMessage, 64),
		errs:     make(chan error, 4),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.closed = true
	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.pingErr
}

func (f *fakeTransport) Messages() <-chan TimestampedMessage { return f.messages }
func (f *fakeTransport) Errors() <-chan error                { return f.errs }

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) CloseCode() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode, f.hasClose
}

func testHealthConfig() HealthConfig {
	return HealthConfig{
		PingInterval: 15 * time.Second,
		PongTimeout:  5 * time.Second,
	}
}

func TestHealthCheckConnectionMissing(t *testing.T) {
	h := NewHealthMonitor(testHealthConfig())

	result := h.Check(context.Background(), nil, time.Now())
	if result.Healthy {
		t.Fatal("nil connection reported healthy")
	}
	if result.Reason != model.HealthConnectionMissing {
		t.Errorf("Reason = %q, want %q", result.Reason, model.HealthConnectionMissing)
	}
}

func TestHealthCheckConnectionClosed(t *testing.T) {
	h := NewHealthMonitor(testHealthConfig())

	// Observed close frame.
	tr := newFakeTransport()
	tr.connected = true
	tr.closeCode = 1001
	tr.hasClose = true
	result := h.Check(context.Background(), tr, time.Now())
	if result.Reason != model.HealthConnectionClosed {
		t.Errorf("close frame: Reason = %q, want %q", result.Reason, model.HealthConnectionClosed)
	}

	// Transport reports disconnected.
	tr2 := newFakeTransport()
	result = h.Check(context.Background(), tr2, time.Now())
	if result.Reason != model.HealthConnectionClosed {
		t.Errorf("disconnected: Reason = %q, want %q", result.Reason, model.HealthConnectionClosed)
	}
}

func TestHealthCheckProbeHealthy(t *testing.T) {
	h := NewHealthMonitor(testHealthConfig())
	tr := newFakeTransport()
	tr.connected = true

	start := time.Now()
	h.Reset(start)

	// Probe due after the full interval.
	now := start.Add(15 * time.Second)
	result := h.Check(context.Background(), tr, now)
	if !result.Healthy {
		t.Fatalf("probe cycle unhealthy: %v", result.Error())
	}
	if tr.pings != 1 {
		t.Errorf("pings = %d, want 1", tr.pings)
	}

	// Next check inside the interval sends no probe.
	result = h.Check(context.Background(), tr, now.Add(time.Second))
	if !result.Healthy {
		t.Fatalf("quiet cycle unhealthy: %v", result.Error())
	}
	if tr.pings != 1 {
		t.Errorf("pings = %d, want still 1", tr.pings)
	}
}

func TestHealthCheckPongTimeout(t *testing.T) {
	h := NewHealthMonitor(testHealthConfig())
	tr := newFakeTransport()
	tr.connected = true
	tr.pingErr = ErrPongTimeout

	start := time.Now()
	h.Reset(start)

	result := h.Check(context.Background(), tr, start.Add(15*time.Second))
	if result.Healthy {
		t.Fatal("pong timeout reported healthy")
	}
	if result.Reason != model.HealthPongTimeout {
		t.Errorf("Reason = %q, want %q", result.Reason, model.HealthPongTimeout)
	}
}

func TestHealthCheckTransportException(t *testing.T) {
	h := NewHealthMonitor(testHealthConfig())
	tr := newFakeTransport()
	tr.connected = true
	tr.pingErr = errors.New("write: broken pipe")

	start := time.Now()
	h.Reset(start)

	result := h.Check(context.Background(), tr, start.Add(15*time.Second))
	if result.Reason != model.HealthTransportException {
		t.Errorf("Reason = %q, want %q", result.Reason, model.HealthTransportException)
	}
	if result.Detail != "write: broken pipe" {
		t.Errorf("Detail = %q, want the underlying error text", result.Detail)
	}
}

func TestHealthCheckPongStale(t *testing.T) {
	h := NewHealthMonitor(testHealthConfig())
	tr := newFakeTransport()
	tr.connected = true

	start := time.Now()
	h.Reset(start)

	// Force lastPing forward so no probe is due, while lastPong decays.
	h.lastPing = start.Add(29 * time.Second)

	result := h.Check(context.Background(), tr, start.Add(31*time.Second))
	if result.Healthy {
		t.Fatal("stale pong reported healthy")
	}
	if result.Reason != model.HealthPongStale {
		t.Errorf("Reason = %q, want %q", result.Reason, model.HealthPongStale)
	}
	if tr.pings != 0 {
		t.Errorf("pings = %d, want 0 (no probe was due)", tr.pings)
	}
}
