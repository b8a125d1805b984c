// Package record provides the record model shared by every other package.
//
// This package imports nothing internal. It holds the Record and Set types,
// pure update functions over a Set, and the canonical JSON encoding used for
// every durable snapshot.
//
// Key constraints:
//   - At most one Record per id in a Set
//   - Update functions never mutate their receiver
//   - No float types; numbers are carried as their JSON literal
//   - Canonical encoding is byte-stable for equal sets
package record
