// Package store persists dataset snapshots.
//
// A snapshot is an opaque byte string addressed by dataset id. Storage is
// the contract the sync engine depends on; this package provides several
// backends and two wrappers that compose with any of them:
//
//   - SQLiteStore: a single SQLite database holding every snapshot
//   - FileStore: one file per dataset in a directory
//   - S3Store: objects in an S3 (or S3-compatible) bucket
//   - MemoryStore: process-local, for tests and ephemeral clients
//   - Compressed: snappy block compression around another Storage
//   - Sealed: passphrase-based authenticated encryption around another Storage
//
// Get reports a snapshot that was never written with ErrNotFound, so callers
// can tell a fresh dataset apart from an unreadable one.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
