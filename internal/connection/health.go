package connection

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/kalshi-sync/internal/model"
)

// HealthMonitor classifies the keepalive health of one connection. It holds
// no long-term state beyond the last probe and acknowledgment times, does no
// retries, and leaves every follow-up decision to the lifecycle manager.
type HealthMonitor struct {
	cfg HealthConfig

	lastPing time.Time
	lastPong time.Time
}

// NewHealthMonitor creates a monitor. Reset must be called when the
// connection it watches (re)opens.
func NewHealthMonitor(cfg HealthConfig) *HealthMonitor {
	return &HealthMonitor{cfg: cfg}
}

// Reset re-arms the probe timestamps for a freshly opened connection.
func (h *HealthMonitor) Reset(now time.Time) {
	h.lastPing = now
	h.lastPong = now
}

// Check runs one keepalive cycle against conn at the given instant.
//
// Classification, in order: missing handle, observed close frame, probe due
// (sent and awaited within PongTimeout), and silent acknowledgment decay
// (no pong for twice the probe interval even though no probe was due).
func (h *HealthMonitor) Check(ctx context.Context, conn Transport, now time.Time) model.HealthCheckResult {
	if conn == nil {
		return model.HealthCheckResult{Reason: model.HealthConnectionMissing}
	}
	if _, closed := conn.CloseCode(); closed || !conn.IsConnected() {
		return model.HealthCheckResult{Reason: model.HealthConnectionClosed}
	}

	if now.Sub(h.lastPing) >= h.cfg.PingInterval {
		pingCtx, cancel := context.WithTimeout(ctx, h.cfg.PongTimeout)
		err := conn.Ping(pingCtx)
		cancel()

		switch {
		case err == nil:
			h.lastPing = now
			h.lastPong = now
			return model.HealthCheckResult{Healthy: true}
		case errors.Is(err, ErrPongTimeout) || errors.Is(err, context.DeadlineExceeded):
			return model.HealthCheckResult{Reason: model.HealthPongTimeout}
		default:
			return model.HealthCheckResult{
				Reason: model.HealthTransportException,
				Detail: err.Error(),
			}
		}
	}

	// No probe was due this cycle; catch acknowledgments that silently
	// stopped arriving between probe cycles.
	if now.Sub(h.lastPong) > 2*h.cfg.PingInterval {
		return model.HealthCheckResult{Reason: model.HealthPongStale}
	}

	return model.HealthCheckResult{Healthy: true}
}
