// Package database provides connection pool management for TimescaleDB.
//
// Feedsync persists top-of-book updates and trades as time-series rows;
// the pool here is the single durable sink shared by the batch writers.
package database
