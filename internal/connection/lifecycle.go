package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"github.com/rickgao/kalshi-sync/internal/feed"
	"github.com/rickgao/kalshi-sync/internal/metrics"
	"github.com/rickgao/kalshi-sync/internal/model"
	"github.com/rickgao/kalshi-sync/internal/store"
)

// allStates is used to clear per-state gauges on every transition.
var allStates = []string{
	string(model.StateDisconnected), string(model.StateConnecting),
	string(model.StateConnected), string(model.StateReady),
	string(model.StateReconnecting), string(model.StateStopping),
	string(model.StateStopped), string(model.StateFailed),
}

// MessageSink consumes decoded feed messages in arrival order.
type MessageSink interface {
	Apply(msg feed.Message) error
}

// TransportFactory builds a fresh Transport for each connection attempt.
type TransportFactory func(cfg ClientConfig, logger *slog.Logger) Transport

// Manager owns the lifecycle state machine for one logical service
// connection: open/close, transition rules, backoff scheduling, and the
// receive loop that feeds decoded messages to the sink.
//
// The in-memory state is authoritative for control flow; the store is a
// best-effort mirror for observability. Store write failures never block
// a transition.
type Manager struct {
	cfg          ManagerConfig
	store        store.Store
	sink         MessageSink
	health       *HealthMonitor
	newTransport TransportFactory
	logger       *slog.Logger

	mu       sync.Mutex
	state    model.ConnectionState
	record   model.ConnectionStateRecord
	counters model.ServiceMetrics

	transport Transport
	backoff   *backoff.Backoff
	events    chan TransportEvent
	cmdID     int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// NewManager creates a lifecycle manager. The store handle is injected; the
// manager never reaches for a global client.
func NewManager(cfg ManagerConfig, st store.Store, sink MessageSink, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("service", cfg.ServiceName)

	return &Manager{
		cfg:    cfg,
		store:  st,
		sink:   sink,
		health: NewHealthMonitor(cfg.Health),
		logger: logger,
		newTransport: func(c ClientConfig, l *slog.Logger) Transport {
			return NewClient(c, l)
		},
		state: model.StateDisconnected,
		record: model.ConnectionStateRecord{
			ServiceName: cfg.ServiceName,
			State:       model.StateDisconnected,
		},
		counters: model.ServiceMetrics{ServiceName: cfg.ServiceName},
		backoff: &backoff.Backoff{
			Min:    cfg.ReconnectMinInterval,
			Max:    cfg.ReconnectMaxInterval,
			Factor: cfg.ReconnectMultiplier,
			Jitter: false,
		},
		events: make(chan TransportEvent, 16),
		now:    time.Now,
	}
}

// CurrentState returns the in-memory (authoritative) state.
func (m *Manager) CurrentState() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Record returns a copy of the current state record.
func (m *Manager) Record() model.ConnectionStateRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record
}

// OnTransportEvent injects an externally observed transport condition. The
// receive loop consumes it on its next cycle; events arriving while the
// manager is already reconnecting are redundant and dropped.
func (m *Manager) OnTransportEvent(ev TransportEvent) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("transport event buffer full, dropping event")
	}
}

// Establish opens the connection and starts the receive loop. A transient
// first-attempt failure leaves the machine in RECONNECTING with retries
// running in the background; only a terminal close or context cancellation
// is returned as an error.
func (m *Manager) Establish(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Terminal() {
		m.mu.Unlock()
		return fmt.Errorf("cannot establish from state %s", m.state)
	}
	if m.cancel != nil {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.transition(model.StateConnecting, "connect requested")

	if err := m.connect(m.ctx); err != nil {
		if m.isTerminal(err) {
			m.transition(model.StateFailed, err.Error())
			return fmt.Errorf("%w: %s", ErrTerminalClose, err)
		}
		if m.ctx.Err() != nil {
			return m.ctx.Err()
		}
		m.transition(model.StateReconnecting, err.Error())
	} else {
		m.becomeReady("handshake complete")
	}

	m.wg.Add(1)
	go m.run()

	return nil
}

// TearDown stops the receive loop, attempts a graceful close, and releases
// resources regardless of the close handshake's outcome.
func (m *Manager) TearDown(ctx context.Context) error {
	m.transition(model.StateStopping, "stop requested")

	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, forcing close")
	}

	m.closeTransport()
	m.flushMetrics()
	m.transition(model.StateStopped, "stopped")
	return nil
}

// run is the per-service task: it serves the open connection and drives
// reconnection until the machine stops or fails.
func (m *Manager) run() {
	defer m.wg.Done()

	for {
		if m.ctx.Err() != nil {
			return
		}

		switch m.CurrentState() {
		case model.StateReady, model.StateConnected:
			m.serve()
		case model.StateReconnecting:
			if !m.reconnect() {
				return
			}
		default:
			return
		}
	}
}

// serve runs the receive loop for the current transport until a failure
// transitions the machine away from READY or the context ends. Health
// checks fire from this task's ticker, never concurrently with a read.
func (m *Manager) serve() {
	m.mu.Lock()
	tr := m.transport
	m.mu.Unlock()
	if tr == nil {
		m.transition(model.StateReconnecting, string(model.HealthConnectionMissing))
		return
	}

	// Stale external events belong to a previous transport.
	m.drainEvents()

	healthTicker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer healthTicker.Stop()
	metricsTicker := time.NewTicker(m.cfg.MetricsFlushInterval)
	defer metricsTicker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return

		case <-healthTicker.C:
			result := m.health.Check(m.ctx, tr, m.now())
			if !result.Healthy {
				m.onFailure(result.Error(), tr)
				return
			}

		case err, ok := <-tr.Errors():
			if !ok {
				continue
			}
			m.logger.Warn("transport error", "error", err)
			m.onTransportError(err, tr)
			return

		case ev := <-m.events:
			detail := "external transport event"
			if ev.Err != nil {
				detail = ev.Err.Error()
			}
			if ev.CloseCode != 0 && m.isTerminalCode(ev.CloseCode) {
				m.fail(fmt.Sprintf("close code %d: %s", ev.CloseCode, detail), tr)
				return
			}
			m.onFailure(detail, tr)
			return

		case msg, ok := <-tr.Messages():
			if !ok {
				m.onFailure(string(model.HealthConnectionClosed), tr)
				return
			}
			m.dispatch(msg)

		case <-metricsTicker.C:
			m.flushMetrics()
		}
	}
}

// dispatch decodes one raw message and applies it in arrival order. A bad
// message is local: logged, counted, and never allowed to move the
// connection state.
func (m *Manager) dispatch(msg TimestampedMessage) {
	m.mu.Lock()
	m.counters.MessagesReceived++
	m.counters.LastMessageAt = msg.ReceivedAt.UnixMicro()
	m.mu.Unlock()
	metrics.MessagesReceived.WithLabelValues(m.cfg.ServiceName).Inc()

	decoded, err := feed.Decode(msg.Data, msg.ReceivedAt)
	if err != nil {
		m.mu.Lock()
		m.counters.MessagesDropped++
		m.mu.Unlock()
		metrics.DecodeFailures.WithLabelValues(m.cfg.ServiceName).Inc()
		m.logger.Warn("dropping malformed feed message", "error", err)
		return
	}

	if err := m.sink.Apply(decoded); err != nil {
		m.logger.Warn("feed message rejected by synchronizer", "error", err)
	}
}

// onTransportError classifies a read-loop error and moves the machine.
func (m *Manager) onTransportError(err error, tr Transport) {
	if m.isTerminal(err) {
		m.fail(err.Error(), tr)
		return
	}
	if code, ok := tr.CloseCode(); ok && m.isTerminalCode(code) {
		m.fail(fmt.Sprintf("close code %d", code), tr)
		return
	}
	m.onFailure(err.Error(), tr)
}

// onFailure handles a transient failure: tear the transport down and enter
// RECONNECTING.
func (m *Manager) onFailure(details string, tr Transport) {
	tr.Close()
	m.transition(model.StateReconnecting, details)
}

// fail handles a terminal failure: no further auto-retry, operator
// intervention required.
func (m *Manager) fail(details string, tr Transport) {
	tr.Close()
	m.transition(model.StateFailed, details)
}

// reconnect retries with bounded exponential backoff until the connection
// recovers, a terminal close arrives, or the context ends. Returns false
// when the run loop should exit.
func (m *Manager) reconnect() bool {
	for {
		wait := m.backoff.Duration()
		m.logger.Info("waiting before reconnection attempt", "wait", wait)

		select {
		case <-m.ctx.Done():
			return false
		case <-time.After(wait):
		}

		m.closeTransport()

		if err := m.connect(m.ctx); err != nil {
			if m.isTerminal(err) {
				m.transition(model.StateFailed, err.Error())
				return false
			}
			if m.ctx.Err() != nil {
				return false
			}
			m.retryFailed(err)
			continue
		}

		m.becomeReady("reconnected")
		return true
	}
}

// retryFailed records one failed reconnection attempt.
func (m *Manager) retryFailed(err error) {
	m.logger.Warn("reconnection attempt failed", "error", err)

	now := m.now()
	m.mu.Lock()
	m.record.ConsecutiveFailures++
	record := m.record
	m.mu.Unlock()

	event := model.ReconnectionEvent{
		ServiceName: m.cfg.ServiceName,
		EventType:   model.EventReconnectFailure,
		Timestamp:   now.UnixMicro(),
		Details:     err.Error(),
	}
	metrics.Reconnections.WithLabelValues(m.cfg.ServiceName, string(event.EventType)).Inc()

	ctx, cancel := m.storeCtx()
	defer cancel()
	m.store.AppendEvent(ctx, event)
	m.store.Put(ctx, record)
}

// connect builds a fresh transport, opens it, and completes the
// subscription handshake.
func (m *Manager) connect(ctx context.Context) error {
	clientCfg := DefaultClientConfig()
	clientCfg.URL = m.cfg.URL
	clientCfg.APIKey = m.cfg.APIKey
	clientCfg.BufferSize = m.cfg.MessageBufferSize

	tr := m.newTransport(clientCfg, m.logger)
	if err := tr.Connect(ctx); err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	m.mu.Lock()
	m.transport = tr
	m.mu.Unlock()
	m.transition(model.StateConnected, "transport open")

	if err := m.subscribe(tr); err != nil {
		tr.Close()
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// becomeReady finalizes a successful (re)connection.
func (m *Manager) becomeReady(details string) {
	m.health.Reset(m.now())
	m.transition(model.StateReady, details)
}

// subscribe performs the application-level handshake: send one subscribe
// command and wait for its acknowledgment. Data messages arriving before
// the ack are dispatched so ordering is preserved.
func (m *Manager) subscribe(tr Transport) error {
	if len(m.cfg.Channels) == 0 && len(m.cfg.MarketTickers) == 0 {
		return nil
	}

	id := atomic.AddInt64(&m.cmdID, 1)
	cmd := Command{
		ID:  id,
		Cmd: "subscribe",
		Params: SubscribeParams{
			Channels:      m.cfg.Channels,
			MarketTickers: m.cfg.MarketTickers,
		},
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	if err := tr.Send(data); err != nil {
		return err
	}

	deadline := time.NewTimer(m.cfg.SubscribeTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()
		case <-deadline.C:
			return ErrTimeout
		case err, ok := <-tr.Errors():
			if ok {
				return err
			}
		case msg, ok := <-tr.Messages():
			if !ok {
				return ErrNotConnected
			}
			resp, isResp := tryParseResponse(msg.Data)
			if !isResp {
				m.dispatch(msg)
				continue
			}
			if resp.ID != id {
				continue
			}
			if resp.Type == "error" {
				var errMsg ErrorMsg
				json.Unmarshal(resp.Msg, &errMsg)
				return fmt.Errorf("%s: %s", errMsg.Code, errMsg.Message)
			}
			return nil
		}
	}
}

// tryParseResponse attempts to parse a message as a command response.
func tryParseResponse(data []byte) (Response, bool) {
	// Quick check for response markers
	if !bytes.Contains(data, []byte(`"id":`)) {
		return Response{}, false
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, false
	}

	switch resp.Type {
	case "subscribed", "unsubscribed", "error", "ok":
		return resp, true
	}

	return Response{}, false
}

// transition moves the machine to a new state and mirrors the whole record
// to the store. A transition to the same state is a no-op: no event, no
// store write. This guards against redundant health-check callbacks
// re-triggering writes.
func (m *Manager) transition(to model.ConnectionState, details string) {
	now := m.now()

	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}

	m.state = to
	m.record.ServiceName = m.cfg.ServiceName
	m.record.State = to
	m.record.StateChangedAt = now.UnixMicro()

	var events []model.ReconnectionEvent
	switch {
	case to == model.StateReconnecting && !m.record.InReconnection:
		m.record.InReconnection = true
		m.record.ReconnectionStartTime = now.UnixMicro()
		m.counters.Reconnections++
		m.backoff.Reset()
		events = append(events, model.ReconnectionEvent{
			ServiceName: m.cfg.ServiceName,
			EventType:   model.EventReconnectStart,
			Timestamp:   now.UnixMicro(),
			Details:     details,
		})

	case to == model.StateReady:
		if m.record.InReconnection {
			elapsed := time.Duration(now.UnixMicro()-m.record.ReconnectionStartTime) * time.Microsecond
			events = append(events, model.ReconnectionEvent{
				ServiceName: m.cfg.ServiceName,
				EventType:   model.EventReconnectSuccess,
				Timestamp:   now.UnixMicro(),
				Details:     fmt.Sprintf("reconnected after %.1fs", elapsed.Seconds()),
			})
			m.record.InReconnection = false
			m.record.ReconnectionStartTime = 0
		}
		m.record.LastSuccessfulConnection = now.UnixMicro()
		m.record.ConsecutiveFailures = 0
		m.backoff.Reset()
	}

	record := m.record
	m.mu.Unlock()

	m.logger.Info("connection state changed",
		"from", from,
		"to", to,
		"details", details,
	)
	metrics.SetConnectionState(m.cfg.ServiceName, string(to), allStates)

	ctx, cancel := m.storeCtx()
	defer cancel()
	for _, ev := range events {
		metrics.Reconnections.WithLabelValues(m.cfg.ServiceName, string(ev.EventType)).Inc()
		m.store.AppendEvent(ctx, ev)
	}
	m.store.Put(ctx, record)
}

// flushMetrics mirrors the per-service counters to the store.
func (m *Manager) flushMetrics() {
	now := m.now()
	m.mu.Lock()
	counters := m.counters
	m.mu.Unlock()
	counters.UpdatedAt = now.UnixMicro()

	ctx, cancel := m.storeCtx()
	defer cancel()
	m.store.PutMetrics(ctx, counters)
}

// storeCtx bounds store mirror writes independently of the receive loop's
// context, so teardown-time transitions still reach the store.
func (m *Manager) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (m *Manager) closeTransport() {
	m.mu.Lock()
	tr := m.transport
	m.transport = nil
	m.mu.Unlock()
	if tr != nil {
		tr.Close()
	}
}

func (m *Manager) drainEvents() {
	for {
		select {
		case <-m.events:
		default:
			return
		}
	}
}

// isTerminal reports whether err carries a non-retryable close code.
func (m *Manager) isTerminal(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return m.isTerminalCode(ce.Code)
	}
	return false
}

func (m *Manager) isTerminalCode(code int) bool {
	for _, c := range m.cfg.TerminalCloseCodes {
		if c == code {
			return true
		}
	}
	return false
}
