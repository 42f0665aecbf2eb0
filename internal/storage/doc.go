// Package storage persists per-chat user state and the command audit log.
//
// Drivers:
//   - "file": JSON snapshot + append-only JSONL journal, compacted periodically
//   - "sqlite": SQLite database (modernc.org/sqlite, no cgo)
package storage
