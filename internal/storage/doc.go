// Package storage persists channels, the cached member lists and pairing
// batches.
//
// Drivers:
//   - "sqlite": single-file database (default), WAL mode, one writer
//   - "postgres": shared database for multi-instance deployments
//   - "memory": process-local maps, used by tests and dry runs
//
// Every exported Store method commits atomically. Dates with day granularity
// are stored as YYYY-MM-DD text and timestamps as fixed-width UTC text so both
// sort lexically in either SQL dialect.
package storage
