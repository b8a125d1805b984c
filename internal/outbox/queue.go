package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/offsync/internal/store"
	"github.com/roach88/offsync/internal/syncerr"
)

// ErrEmpty is returned by Dequeue on an empty queue.
var ErrEmpty = errors.New("outbox is empty")

// Queue is a durable FIFO of entries backed by a store.Backend.
//
// Thread-safety: all methods may be called from any goroutine. Writes to the
// backend happen under the queue lock, so the persisted list always matches
// some in-memory state in order.
type Queue struct {
	backend store.Backend
	clock   *Clock
	ids     IDGenerator
	now     func() time.Time

	mu      sync.Mutex
	entries []Entry
	signal  chan struct{} // Signals entry availability (buffered, size 1)
}

// Option configures a Queue.
type Option func(*Queue)

// WithIDGenerator sets the entry id generator. Default is UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(q *Queue) {
		q.ids = g
	}
}

// WithNow sets the wall clock used for CreatedAt. CreatedAt is informational
// only and never used for ordering.
func WithNow(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// Open rebuilds the queue from the backend.
//
// When the persisted list cannot be read, Open still returns an empty usable
// queue together with a LOCAL_STORAGE error for the caller to report.
func Open(ctx context.Context, backend store.Backend, opts ...Option) (*Queue, error) {
	q := &Queue{
		backend: backend,
		ids:     UUIDv7Generator{},
		now:     time.Now,
		signal:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}

	entries, err := q.read(ctx)
	if err != nil {
		q.clock = NewClock()
		return q, syncerr.LocalStorage("outbox.open", err)
	}

	var maxSeq int64
	for _, e := range entries {
		maxSeq = max(maxSeq, e.Seq)
	}
	q.entries = entries
	q.clock = NewClockAt(maxSeq)

	if len(entries) > 0 {
		q.notify()
	}
	return q, nil
}

func (q *Queue) read(ctx context.Context) ([]Entry, error) {
	raw, err := q.backend.Get(ctx, store.KeyOutbox)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode outbox: %w", err)
	}
	return entries, nil
}

// Enqueue appends entry to the back of the queue and persists the list.
//
// ID, Seq and CreatedAt are assigned here; an ID already set by the caller is
// kept. The returned entry is the stored one. A non-nil error is always a
// LOCAL_STORAGE error and the entry is queued regardless.
func (q *Queue) Enqueue(ctx context.Context, entry Entry) (Entry, error) {
	entry = entry.Clone()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = q.now().UTC()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if entry.ID == "" {
		entry.ID = q.ids.Generate()
	}
	entry.Seq = q.clock.Next()
	q.entries = append(q.entries, entry)
	err := q.persistLocked(ctx, "outbox.enqueue")
	q.notify()

	return entry.Clone(), err
}

// PeekFront returns the front entry without removing it.
func (q *Queue) PeekFront() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return Entry{}, false
	}
	return q.entries[0].Clone(), true
}

// Dequeue removes the front entry and persists the list.
// Returns ErrEmpty on an empty queue. A persistence failure is returned as a
// LOCAL_STORAGE error alongside the removed entry.
func (q *Queue) Dequeue(ctx context.Context) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return Entry{}, ErrEmpty
	}

	e := q.entries[0]
	q.entries[0] = Entry{}
	if len(q.entries) == 1 {
		q.entries = q.entries[:0]
	} else {
		q.entries = q.entries[1:]
	}

	return e, q.persistLocked(ctx, "outbox.dequeue")
}

// persistLocked writes the whole list; an empty queue removes the key.
// Caller must hold q.mu.
func (q *Queue) persistLocked(ctx context.Context, op string) error {
	if len(q.entries) == 0 {
		if err := q.backend.Delete(ctx, store.KeyOutbox); err != nil {
			return syncerr.LocalStorage(op, err)
		}
		return nil
	}
	data, err := json.Marshal(q.entries)
	if err != nil {
		return syncerr.LocalStorage(op, fmt.Errorf("encode outbox: %w", err))
	}
	if err := q.backend.Set(ctx, store.KeyOutbox, string(data)); err != nil {
		return syncerr.LocalStorage(op, err)
	}
	return nil
}

// notify signals availability (non-blocking - buffer of 1 coalesces signals).
func (q *Queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Wait returns a channel that signals when entries may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // PeekFront
//	}
func (q *Queue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// IsEmpty reports whether the queue has no entries.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// Entries returns a copy of all entries, front first.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Entry, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.Clone()
	}
	return out
}
