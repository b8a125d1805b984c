// Package store provides the durable key-value layer for offsync.
//
// Two values live in the backend, each under its own key:
//   - "records": canonical JSON snapshot of the Record Set
//   - "outbox": JSON list of pending outbox entries
//
// There is no transaction spanning both keys. Each Set is a single upsert,
// so after a crash a key holds either its previous or its new value, never a
// torn one.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - Single connection: SQLite allows one writer at a time
//
// The memory backend has the same contract minus durability and is used by
// tests and by the CLI when the database path is ":memory:".
package store
