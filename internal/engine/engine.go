package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/offsync/internal/auth"
	"github.com/roach88/offsync/internal/connectivity"
	"github.com/roach88/offsync/internal/outbox"
	"github.com/roach88/offsync/internal/syncerr"
)

// Queue is the part of outbox.Queue the engine consumes.
type Queue interface {
	PeekFront() (outbox.Entry, bool)
	Dequeue(ctx context.Context) (outbox.Entry, error)
	Len() int
	Wait() <-chan struct{}
}

// Executor performs an effect against the remote service.
// Implemented by remote.Client.
type Executor interface {
	Execute(ctx context.Context, eff outbox.Effect, idempotencyKey, token string) ([]byte, error)
}

// Connectivity reports reachability. Implemented by connectivity.Monitor.
type Connectivity interface {
	Current() connectivity.State
	Subscribe() (<-chan connectivity.State, func())
}

// Dispatcher applies commit and rollback actions to local state.
// response is the body returned by the remote service, nil on rollback.
type Dispatcher interface {
	Dispatch(ctx context.Context, entry outbox.Entry, action outbox.Action, response []byte) error
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(ctx context.Context, entry outbox.Entry, action outbox.Action, response []byte) error

// Dispatch calls f.
func (f DispatchFunc) Dispatch(ctx context.Context, entry outbox.Entry, action outbox.Action, response []byte) error {
	return f(ctx, entry, action, response)
}

// Engine replays outbox entries in order.
//
// Thread-safety model:
//   - Start/Stop/Nudge/InFlight: safe from any goroutine
//   - Run and Drain: at most one at a time; a second caller gets ErrRunning
//
// INVARIANTS:
//   - At most one entry is IN_FLIGHT
//   - The front entry is never skipped; a retried entry blocks the queue
type Engine struct {
	queue    Queue
	exec     Executor
	creds    auth.Source
	conn     Connectivity
	dispatch Dispatcher
	policy   RetryPolicy
	observe  func(Transition)

	wake     chan struct{}
	inFlight atomic.Int32
	attempts map[string]int // owned by the draining goroutine

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithPolicy sets the retry policy. Default: DefaultPolicy().
func WithPolicy(p RetryPolicy) EngineOption {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithCredentials sets the token source. Default: no token.
func WithCredentials(src auth.Source) EngineOption {
	return func(e *Engine) {
		e.creds = src
	}
}

// WithObserver registers a callback for every entry state transition.
// It runs on the draining goroutine and must not block.
func WithObserver(fn func(Transition)) EngineOption {
	return func(e *Engine) {
		e.observe = fn
	}
}

// New creates an Engine. It does nothing until Start, Run or Drain.
func New(queue Queue, exec Executor, conn Connectivity, dispatch Dispatcher, opts ...EngineOption) *Engine {
	e := &Engine{
		queue:    queue,
		exec:     exec,
		conn:     conn,
		dispatch: dispatch,
		creds:    auth.NewStatic(""),
		policy:   DefaultPolicy(),
		wake:     make(chan struct{}, 1),
		attempts: make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start runs the drain loop in a new goroutine. Calling Start on a running
// engine is a no-op; the return value reports whether this call started it.
func (e *Engine) Start(ctx context.Context) bool {
	runCtx, ok := e.acquire(ctx)
	if !ok {
		return false
	}
	go func() {
		defer e.release()
		e.loop(runCtx)
	}()
	return true
}

// Run runs the drain loop in the calling goroutine until ctx is canceled or
// Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	runCtx, ok := e.acquire(ctx)
	if !ok {
		return ErrRunning
	}
	defer e.release()
	e.loop(runCtx)
	return ctx.Err()
}

// Stop cancels the running loop and waits for it to exit. An entry in flight
// finishes its request first; its result is applied normally or, if the
// request was cut short, the entry stays queued.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether a loop or Drain currently owns the queue.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Nudge asks a waiting loop to look at the queue again.
func (e *Engine) Nudge() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// InFlight returns the number of entries currently executing (0 or 1).
func (e *Engine) InFlight() int {
	return int(e.inFlight.Load())
}

// Drain processes entries synchronously until the queue is empty, the
// service is unreachable or the front entry needs a retry. In the last case
// retryIn is the policy delay the caller should wait before draining again.
func (e *Engine) Drain(ctx context.Context) (retryIn time.Duration, err error) {
	runCtx, ok := e.acquire(ctx)
	if !ok {
		return 0, ErrRunning
	}
	defer e.release()

	retryIn, _ = e.drain(runCtx)
	return retryIn, ctx.Err()
}

func (e *Engine) acquire(ctx context.Context) (context.Context, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil, false
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})
	return runCtx, true
}

func (e *Engine) release() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancel()
	close(e.done)
	e.running = false
	e.cancel = nil
	e.done = nil
}

// loop is the drain loop body. Called only by the goroutine that acquired
// the engine.
func (e *Engine) loop(ctx context.Context) {
	states, unsubscribe := e.conn.Subscribe()
	defer unsubscribe()

	slog.Info("replay engine starting", "queued", e.queue.Len())

	var timer *time.Timer
	var retry <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if retry == nil {
			if delay, scheduled := e.drain(ctx); scheduled {
				timer = time.NewTimer(delay)
				retry = timer.C
			}
		}

		select {
		case <-ctx.Done():
			slog.Info("replay engine stopping", "queued", e.queue.Len())
			return
		case <-e.queue.Wait():
		case <-e.wake:
		case s, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			slog.Debug("replay engine saw connectivity change", "state", s.String())
		case <-retry:
			retry = nil
		}
	}
}

// drain processes front entries until the queue is empty, the service is
// unreachable, or an entry is scheduled for retry.
func (e *Engine) drain(ctx context.Context) (time.Duration, bool) {
	for ctx.Err() == nil {
		if !e.conn.Current().Connected {
			return 0, false
		}
		entry, ok := e.queue.PeekFront()
		if !ok {
			return 0, false
		}

		attempt, settled, err := e.attempt(ctx, entry)
		if !settled {
			return 0, false
		}
		if err == nil {
			continue
		}
		if e.policy.Discard(err, attempt) {
			e.rollback(context.WithoutCancel(ctx), entry, attempt, err)
			continue
		}

		delay := e.policy.Delay(attempt)
		e.transition(entry.ID, StateInFlight, StateRetryScheduled, attempt, err)
		slog.Warn("replay failed, retry scheduled",
			"entry", entry.ID,
			"effect", entry.Effect.String(),
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		return delay, true
	}
	return 0, false
}

// attempt executes the front entry once, with the one-shot credential
// refresh on 401. On success the entry is committed. settled is false when
// ctx was canceled mid-request; the entry then stays queued untouched.
func (e *Engine) attempt(ctx context.Context, entry outbox.Entry) (attempt int, settled bool, err error) {
	prev := e.attempts[entry.ID]
	attempt = prev + 1
	e.attempts[entry.ID] = attempt

	from := StatePending
	if prev > 0 {
		from = StateRetryScheduled
	}
	e.transition(entry.ID, from, StateInFlight, attempt, nil)

	e.inFlight.Add(1)
	resp, err := e.exec.Execute(ctx, entry.Effect, entry.ID, e.creds.Token())
	if syncerr.IsAuthExpired(err) && ctx.Err() == nil {
		slog.Info("credential expired, refreshing", "entry", entry.ID)
		token, rerr := e.creds.Refresh(ctx)
		if rerr != nil {
			slog.Warn("credential refresh failed", "entry", entry.ID, "error", rerr)
		} else {
			resp, err = e.exec.Execute(ctx, entry.Effect, entry.ID, token)
		}
	}
	e.inFlight.Add(-1)

	if err != nil && ctx.Err() != nil {
		e.attempts[entry.ID] = prev
		return attempt, false, err
	}
	if err != nil {
		return attempt, true, err
	}

	// The remote side is done; local bookkeeping must finish even if the
	// loop is being stopped.
	e.commit(context.WithoutCancel(ctx), entry, attempt, resp)
	return attempt, true, nil
}

func (e *Engine) commit(ctx context.Context, entry outbox.Entry, attempt int, resp []byte) {
	e.remove(ctx, entry)
	e.transition(entry.ID, StateInFlight, StateCommitted, attempt, nil)
	slog.Debug("replay committed", "entry", entry.ID, "effect", entry.Effect.String(), "attempt", attempt)

	if err := e.dispatch.Dispatch(ctx, entry, entry.Commit, resp); err != nil {
		slog.Error("commit dispatch failed", "entry", entry.ID, "action", entry.Commit.Type, "error", err)
	}
}

func (e *Engine) rollback(ctx context.Context, entry outbox.Entry, attempt int, cause error) {
	e.remove(ctx, entry)
	e.transition(entry.ID, StateInFlight, StateRolledBack, attempt, cause)
	slog.Warn("replay discarded, rolling back",
		"entry", entry.ID,
		"effect", entry.Effect.String(),
		"attempt", attempt,
		"error", cause,
	)

	if err := e.dispatch.Dispatch(ctx, entry, entry.Rollback, nil); err != nil {
		slog.Error("rollback dispatch failed", "entry", entry.ID, "action", entry.Rollback.Type, "error", err)
	}
}

// remove dequeues the front entry, which must be entry.
func (e *Engine) remove(ctx context.Context, entry outbox.Entry) {
	delete(e.attempts, entry.ID)

	got, err := e.queue.Dequeue(ctx)
	switch {
	case errors.Is(err, outbox.ErrEmpty):
		slog.Error("outbox emptied under the replay engine", "entry", entry.ID)
		return
	case err != nil:
		// The entry is gone from memory; it may replay after a restart.
		slog.Warn("outbox persist failed after dequeue", "entry", entry.ID, "error", err)
	}
	if got.ID != entry.ID {
		slog.Error("outbox front changed under the replay engine", "want", entry.ID, "got", got.ID)
	}
}

func (e *Engine) transition(id string, from, to EntryState, attempt int, err error) {
	if e.observe != nil {
		e.observe(Transition{EntryID: id, From: from, To: to, Attempt: attempt, Err: err})
	}
}
