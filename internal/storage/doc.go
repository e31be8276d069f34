// Package storage persists the outcome history of scheduler runs.
//
// Every terminal job outcome is appended as one Record tagged with the run
// that produced it. Drivers:
//   - "file": append-only JSON Lines
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package storage
