package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/kalshi-sync/internal/metrics"
	"github.com/rickgao/kalshi-sync/internal/model"
	"github.com/rickgao/kalshi-sync/internal/store"
)

// Suppression reasons.
const (
	ReasonActiveReconnection = "active reconnection"
	ReasonGracePeriod        = "grace period after reconnect"
	ReasonNoRecord           = "no stored record"
	ReasonStoreUnavailable   = "store read failed"
)

// GateConfig holds alert gate settings.
type GateConfig struct {
	DefaultGracePeriod time.Duration // Used when the caller passes zero
	HistorySize        int           // Bounded audit history of decisions
	StoreTimeout       time.Duration // Per-decision store read deadline
}

// DefaultGateConfig returns sensible defaults.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		DefaultGracePeriod: 5 * time.Minute,
		HistorySize:        256,
		StoreTimeout:       2 * time.Second,
	}
}

// Gate decides whether a pending alert for a service should be suppressed
// because the service is known to be mid-reconnect, or recently recovered.
//
// The gate fails open: when no record exists for the service, or the store
// read fails, the alert is allowed. A spurious alert is preferable to a
// silently swallowed real incident.
type Gate struct {
	cfg    GateConfig
	store  store.Store
	logger *slog.Logger

	mu      sync.Mutex
	history []model.SuppressionDecision
	next    int
	filled  bool

	now func() time.Time
}

// NewGate creates an alert gate backed by the given store.
func NewGate(cfg GateConfig, st store.Store, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultGateConfig().HistorySize
	}
	return &Gate{
		cfg:     cfg,
		store:   st,
		logger:  logger,
		history: make([]model.SuppressionDecision, cfg.HistorySize),
		now:     time.Now,
	}
}

// Decide returns the suppress/allow decision for one pending alert.
//
// Rule order: an in-progress reconnection always suppresses, regardless of
// grace period; otherwise a recent successful connection suppresses until
// the grace period elapses; otherwise the alert is allowed.
func (g *Gate) Decide(ctx context.Context, serviceName, alertType string, gracePeriod time.Duration) model.SuppressionDecision {
	if gracePeriod <= 0 {
		gracePeriod = g.cfg.DefaultGracePeriod
	}

	now := g.now()
	decision := model.SuppressionDecision{
		ServiceName: serviceName,
		AlertType:   alertType,
		DecidedAt:   now.UnixMicro(),
	}

	readCtx, cancel := context.WithTimeout(ctx, g.cfg.StoreTimeout)
	record, err := g.store.Get(readCtx, serviceName)
	cancel()

	switch {
	case err != nil:
		g.logger.Warn("alert gate store read failed, allowing alert",
			"service", serviceName,
			"alert_type", alertType,
			"error", err,
		)
		decision.Reason = ReasonStoreUnavailable

	case record == nil:
		decision.Reason = ReasonNoRecord

	case record.InReconnection:
		decision.ShouldSuppress = true
		decision.Reason = ReasonActiveReconnection
		if record.ReconnectionStartTime > 0 {
			decision.SuppressionDuration = time.Duration(now.UnixMicro()-record.ReconnectionStartTime) * time.Microsecond
		}

	case record.LastSuccessfulConnection > 0:
		elapsed := time.Duration(now.UnixMicro()-record.LastSuccessfulConnection) * time.Microsecond
		if elapsed < gracePeriod {
			decision.ShouldSuppress = true
			decision.Reason = ReasonGracePeriod
			decision.GracePeriodRemaining = gracePeriod - elapsed
			if decision.GracePeriodRemaining < 0 {
				decision.GracePeriodRemaining = 0
			}
		}
	}

	if decision.ShouldSuppress {
		metrics.AlertsSuppressed.WithLabelValues(serviceName, decision.Reason).Inc()
		g.logger.Info("alert suppressed",
			"service", serviceName,
			"alert_type", alertType,
			"reason", decision.Reason,
		)
	}

	g.remember(decision)
	return decision
}

// History returns the retained decisions, oldest first.
func (g *Gate) History() []model.SuppressionDecision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.filled {
		out := make([]model.SuppressionDecision, g.next)
		copy(out, g.history[:g.next])
		return out
	}

	out := make([]model.SuppressionDecision, 0, len(g.history))
	out = append(out, g.history[g.next:]...)
	out = append(out, g.history[:g.next]...)
	return out
}

// remember appends a decision to the bounded ring of recent decisions.
func (g *Gate) remember(d model.SuppressionDecision) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.history[g.next] = d
	g.next++
	if g.next == len(g.history) {
		g.next = 0
		g.filled = true
	}
}
