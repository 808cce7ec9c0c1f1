// Package book implements the Order Book Synchronizer.
//
// The synchronizer reconciles snapshot and incremental-delta feed messages
// into one consistent book per market:
//   - Snapshots replace a whole side; deltas upsert or remove single levels.
//   - A level with size <= 0 is removed, never stored.
//   - Every committed update leaves best bid/ask consistent with the side
//     they summarize; readers always see a point-in-time consistent copy.
//   - Crossed books are committed as received and flagged loudly.
//
// One logical writer per market is enforced with a per-market lock.
package book
