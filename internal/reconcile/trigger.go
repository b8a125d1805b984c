// Package reconcile re-synchronizes local state from the remote service
// whenever the outbox drains.
package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/offsync/internal/record"
)

// DefaultInterval is how often Run samples the queue length.
const DefaultInterval = time.Second

// Queue reports the outbox length. Implemented by outbox.Queue.
type Queue interface {
	Len() int
}

// Fetcher reads the authoritative record set.
type Fetcher interface {
	FetchAll(ctx context.Context) (record.Set, error)
}

// ApplyFunc overwrites local state with a fetched set.
type ApplyFunc func(ctx context.Context, set record.Set) error

// Trigger fires a full re-fetch exactly once per non-empty to empty
// transition of the queue.
//
// Thread-safety: Tick may be called from any goroutine; ticks are serialized
// and never overlap.
type Trigger struct {
	queue    Queue
	fetch    Fetcher
	apply    ApplyFunc
	interval time.Duration

	mu      sync.Mutex
	prevLen int
	armed   atomic.Bool
	fires   atomic.Int64
}

// Option configures a Trigger.
type Option func(*Trigger)

// WithInterval sets how often Run ticks. Default: DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(t *Trigger) {
		if d > 0 {
			t.interval = d
		}
	}
}

// New creates a Trigger. It does nothing until Tick or Run.
func New(queue Queue, fetch Fetcher, apply ApplyFunc, opts ...Option) *Trigger {
	t := &Trigger{
		queue:    queue,
		fetch:    fetch,
		apply:    apply,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Arm records that the queue held entries since the last tick. A queue that
// fills and drains between two ticks then still fires once.
func (t *Trigger) Arm() {
	t.armed.Store(true)
}

// Tick samples the queue length and fires if the queue just became empty.
// It reports whether a fetch was issued. A failed fetch or apply is logged
// and leaves local state untouched.
func (t *Trigger) Tick(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.queue.Len()
	armed := t.armed.Swap(false)
	wasNonEmpty := t.prevLen > 0 || armed
	t.prevLen = n
	if n > 0 || !wasNonEmpty {
		return false
	}

	t.fires.Add(1)
	slog.Info("outbox drained, reconciling")

	set, err := t.fetch.FetchAll(ctx)
	if err != nil {
		slog.Warn("reconcile fetch failed", "error", err)
		return true
	}
	if err := t.apply(ctx, set); err != nil {
		slog.Warn("reconcile apply failed", "error", err)
		return true
	}
	slog.Debug("reconciled", "records", len(set))
	return true
}

// Fires returns how many times the trigger fired.
func (t *Trigger) Fires() int {
	return int(t.fires.Load())
}

// Run ticks at the configured interval until ctx is canceled.
func (t *Trigger) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}
