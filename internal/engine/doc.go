// Package engine implements the outbox replay engine.
//
// The engine drains the outbox against the remote service while the
// connectivity monitor reports the service reachable.
//
// ARCHITECTURE:
//
// Single-Flight Drain Loop:
// Exactly one goroutine (the Run loop, or a synchronous Drain) processes
// entries. This ensures:
// - At most one entry is IN_FLIGHT at any instant
// - Entries reach the remote service in enqueue order
// - A retried entry blocks everything behind it
//
// Per-entry state machine:
//
//	PENDING -> IN_FLIGHT -> COMMITTED       success; dequeue, dispatch commit
//	                     -> RETRY_SCHEDULED failure; entry stays at the front
//	                     -> ROLLED_BACK     policy discards; dequeue, dispatch rollback
//	RETRY_SCHEDULED -> IN_FLIGHT            after the delay, if still connected
//
// A 401 first triggers one synchronous credential refresh and one retry
// with the new token. Only if that retry also fails does the entry go to
// the retry policy.
//
// Delivery is at-least-once. Every request carries the entry id as its
// Idempotency-Key.
package engine
