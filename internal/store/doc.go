// Package store implements the durable reconnection-state store backed by
// Redis.
//
// Layout (all keys under a configurable prefix):
//   - connections            hash: service name → JSON ConnectionStateRecord
//   - events:<service>       sorted set of JSON ReconnectionEvents, scored by
//     event timestamp, trimmed to a retention window
//   - metrics:<service>      JSON ServiceMetrics with a TTL
//
// Mutations never raise: I/O errors are logged and reported as a boolean so
// a store outage cannot crash the producing component. Queries return
// errors; callers choose their own fallback. Malformed stored records are
// skipped, never fatal.
package store
