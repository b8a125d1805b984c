// Package outbox implements the durable FIFO of writes awaiting the remote
// service.
//
// Every entry is stamped with a logical sequence number and an id. The id
// doubles as the Idempotency-Key sent with the effect, so a replay after a
// crash between "remote accepted" and "entry removed" is recognizable by the
// server.
//
// Ordering rules:
//   - Entries leave the queue in the order they entered it
//   - Entries for the same record id are never merged or reordered
//   - The full list is persisted under store.KeyOutbox before Enqueue returns
//
// A persistence failure is reported as a LOCAL_STORAGE error but the
// in-memory queue is still updated, so the session keeps working until the
// backend recovers.
package outbox
