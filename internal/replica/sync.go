package replica

import (
	"context"
	"errors"
	"time"
)

// ErrOffline is returned by Sync when the service is unreachable.
var ErrOffline = errors.New("remote service unreachable")

// drainPoll is how often WaitDrained samples the queue.
const drainPoll = 10 * time.Millisecond

// Sync drains the outbox in the calling goroutine, waiting out retry
// delays, and then overwrites local state with the authoritative set.
// It must not be used while the background tasks run; ctx bounds the
// whole call.
func (r *Replica) Sync(ctx context.Context) error {
	for {
		if !r.monitor.Check(ctx).Connected {
			return ErrOffline
		}
		retryIn, err := r.engine.Drain(ctx)
		if err != nil {
			return err
		}
		if r.queue.IsEmpty() {
			break
		}
		if retryIn == 0 {
			continue
		}

		timer := time.NewTimer(retryIn)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return r.fetch(ctx)
}

// Flush replays queued entries once in the calling goroutine. It stops at
// the first entry that needs a retry and leaves it queued; nothing is
// fetched afterwards. Like Sync it must not run beside the background tasks.
func (r *Replica) Flush(ctx context.Context) error {
	if !r.monitor.Check(ctx).Connected {
		return ErrOffline
	}
	_, err := r.engine.Drain(ctx)
	return err
}

// WaitDrained blocks until the outbox is empty or ctx is done.
func (r *Replica) WaitDrained(ctx context.Context) error {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()

	for !r.queue.IsEmpty() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
