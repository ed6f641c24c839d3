// Package checkpoint records how far an ingestion run has progressed.
//
// A checkpoint is a (cursor, sequence, time) row in an append-only history.
// The latest row tells the next run which cursor to request and which
// sequence number its first page gets. Rows are never updated or deleted.
//
// Backends:
//   - SQLStore: MySQL, Cloud SQL for MySQL or SQLite through database/sql
//   - FileStore: a JSON-lines file, one checkpoint per line
//   - MemoryStore: in-process, for tests and dry runs
package checkpoint
