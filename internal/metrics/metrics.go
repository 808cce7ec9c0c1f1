package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionState tracks the current lifecycle state per service
	// (one gauge per state, 1 = current).
	ConnectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "feedsync",
		Name:      "connection_state",
		Help:      "Current connection lifecycle state per service.",
	}, []string{"service", "state"})

	// Reconnections counts reconnection events by type (start/success/failure).
	Reconnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedsync",
		Name:      "reconnections_total",
		Help:      "Reconnection events per service and event type.",
	}, []string{"service", "event"})

	// MessagesReceived counts inbound feed messages per service.
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedsync",
		Name:      "messages_received_total",
		Help:      "Inbound feed messages per service.",
	}, []string{"service"})

	// DecodeFailures counts malformed feed messages per service.
	DecodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedsync",
		Name:      "decode_failures_total",
		Help:      "Feed messages dropped as malformed, per service.",
	}, []string{"service"})

	// BookUpdates counts applied book operations by kind
	// (snapshot/delta/trade).
	BookUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedsync",
		Name:      "book_updates_total",
		Help:      "Order book operations applied, by kind.",
	}, []string{"kind"})

	// CrossedBooks counts crossed-book data-quality warnings.
	CrossedBooks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feedsync",
		Name:      "crossed_books_total",
		Help:      "Crossed-book conditions observed (committed but flagged).",
	})

	// StoreWriteFailures counts swallowed store mutation failures.
	StoreWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedsync",
		Name:      "store_write_failures_total",
		Help:      "Reconnection-state store mutations that failed, by operation.",
	}, []string{"op"})

	// AlertsSuppressed counts suppressed alerts per service and reason.
	AlertsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedsync",
		Name:      "alerts_suppressed_total",
		Help:      "Alerts suppressed by the gate, per service and reason.",
	}, []string{"service", "reason"})

	// WriterRows counts rows flushed to the database by table.
	WriterRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedsync",
		Name:      "writer_rows_total",
		Help:      "Rows written to the database, by table.",
	}, []string{"table"})
)

// SetConnectionState records s as the service's current state, clearing the
// gauge for every other state.
func SetConnectionState(service, state string, all []string) {
	for _, st := range all {
		v := 0.0
		if st == state {
			v = 1.0
		}
		ConnectionState.WithLabelValues(service, st).Set(v)
	}
}
