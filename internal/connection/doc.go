// Package connection owns the per-service feed connection lifecycle.
//
// Manager drives the state machine (DISCONNECTED through READY, with
// RECONNECTING/FAILED on the failure paths), persists every transition to
// the reconnection state store, and retries transient failures with bounded
// exponential backoff. HealthMonitor classifies keepalive health from ping
// probes and pong staleness. The Transport interface hides the
// gorilla/websocket client so tests can substitute fakes.
package connection
