package store

import (
	"context"
	"time"

	"github.com/rickgao/kalshi-sync/internal/model"
)

// Store is the durable reconnection-state store shared by the lifecycle
// managers (write side) and the alert gate / dashboards (read side).
//
// Mutations (Put, AppendEvent, PutMetrics) swallow I/O errors and report
// success as a boolean. Queries surface errors to the caller.
type Store interface {
	// Put writes the whole record, replacing any previous one.
	Put(ctx context.Context, record model.ConnectionStateRecord) bool

	// Get returns the record for a service, or nil if none is stored or the
	// stored record is malformed.
	Get(ctx context.Context, serviceName string) (*model.ConnectionStateRecord, error)

	// GetAll returns every decodable stored record keyed by service name.
	GetAll(ctx context.Context) (map[string]model.ConnectionStateRecord, error)

	// AppendEvent appends to the service's time-ordered reconnection log.
	AppendEvent(ctx context.Context, event model.ReconnectionEvent) bool

	// RecentEvents returns the service's events at or after since, oldest
	// first.
	RecentEvents(ctx context.Context, serviceName string, since time.Time) ([]model.ReconnectionEvent, error)

	// PutMetrics writes the service's feed counters.
	PutMetrics(ctx context.Context, m model.ServiceMetrics) bool

	// GetMetrics returns the service's feed counters, or nil if absent.
	GetMetrics(ctx context.Context, serviceName string) (*model.ServiceMetrics, error)

	// PruneStale removes records whose state_changed_at is older than maxAge
	// and returns the count removed. Janitor use only, not the hot path.
	PruneStale(ctx context.Context, maxAge time.Duration) (int, error)
}
