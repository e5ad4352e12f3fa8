// Package storage persists delivery log entries and recipient documents.
//
// Drivers:
//   - memory: process-local, the default
//   - file: JSON Lines log plus a snapshot/journal pair for recipients
//   - sqlite: modernc.org/sqlite database file
//   - postgres: pgx connection pool
//
// Delivery log entries are append-only; the only removal path is retention
// pruning by age.
package storage
