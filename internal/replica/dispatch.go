package replica

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/offsync/internal/outbox"
	"github.com/roach88/offsync/internal/record"
)

// Action types carried by outbox entries.
const (
	ActionConfirmUpdate  = "records/confirmUpdate"
	ActionRevertUpdate   = "records/revertUpdate"
	ActionReplaceAll     = "records/replaceAll"
	ActionAbandonRefresh = "records/abandonRefresh"
)

// Dispatch applies a commit or rollback action after its entry resolved.
// It implements engine.Dispatcher.
func (r *Replica) Dispatch(ctx context.Context, entry outbox.Entry, action outbox.Action, response []byte) error {
	switch action.Type {
	case ActionConfirmUpdate:
		r.confirmUpdate(action.Payload)
		return nil

	case ActionRevertUpdate:
		r.revertUpdate(ctx, action.Payload)
		return nil

	case ActionReplaceAll:
		set, err := record.ParseSet(response)
		if err != nil {
			return fmt.Errorf("%s: %w", action.Type, err)
		}
		return r.ReplaceAll(ctx, set)

	case ActionAbandonRefresh:
		slog.Warn("queued refresh discarded", "entry", entry.ID)
		return nil

	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

// confirmUpdate marks one update of the record as acknowledged. Local state
// already carries the value; reconciliation brings in anything the server
// changed.
func (r *Replica) confirmUpdate(payload record.Object) {
	id := payloadString(payload, "id")

	r.mu.Lock()
	defer r.mu.Unlock()
	r.release(id)
}

// revertUpdate undoes a discarded update. The previous name is restored
// only when no later update of the same record is outstanding and the
// record still carries the discarded value; a record the update created is
// removed.
func (r *Replica) revertUpdate(ctx context.Context, payload record.Object) {
	id := payloadString(payload, "id")
	name := payloadString(payload, "name")

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	later := r.pending[id] > 1
	r.release(id)
	current, ok := r.set.Get(id)
	if later || !ok || current.Name != name {
		r.mu.Unlock()
		slog.Info("rollback skipped, record changed since", "id", id)
		return
	}

	var next record.Set
	switch prev := payload["previous"].(type) {
	case record.String:
		next, _, _ = r.set.WithName(id, string(prev))
	default:
		next = r.set.Without(id)
	}
	r.set = next
	r.mu.Unlock()

	slog.Info("rolled back update", "id", id)
	r.persist(ctx, next)
	r.notify(next)
}

// release drops one outstanding update of id. Caller holds mu.
func (r *Replica) release(id string) {
	if r.pending[id] <= 1 {
		delete(r.pending, id)
		return
	}
	r.pending[id]--
}

func payloadString(payload record.Object, key string) string {
	switch v := payload[key].(type) {
	case record.String:
		return string(v)
	case record.Number:
		return string(v)
	}
	return ""
}
