// Package writer persists committed book updates to TimescaleDB.
//
// One batch writer drains the synchronizer's update queue and splits it into
// two append-only tables: book_updates (top of book per committed change) and
// trades (one row per trade tick). Inserts are idempotent via ON CONFLICT DO
// NOTHING, so a replay after a crash cannot duplicate rows.
//
// Prices are stored as integer hundred-thousandths (0-100,000 = $0.00-$1.00)
// for 5-digit sub-penny precision.
package writer
