// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Connection lifecycle state and reconnection event counts
//   - Feed message and decode failure rates
//   - Order book update counts and crossed-book warnings
//   - Store write failures and suppressed alerts
//   - Database writer throughput
package metrics
