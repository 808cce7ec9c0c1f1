// Package model defines shared data types used across the feed synchronizer:
// connection lifecycle state, reconnection events, health check results,
// order book views, and alert suppression decisions.
//
// Conventions:
//   - Prices: integer hundred-thousandths (0-100,000 = $0.00-$1.00)
//   - Timestamps: int64 microseconds since Unix epoch
//   - IDs: string for tickers, uuid.UUID for trade IDs
package model
