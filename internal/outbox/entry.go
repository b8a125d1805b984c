package outbox

import (
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/roach88/offsync/internal/record"
)

// Effect is the remote request an entry stands for.
type Effect struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Body    json.RawMessage   `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Action describes a local state change dispatched after the effect
// resolves. Type selects the handler; Payload carries its arguments.
type Action struct {
	Type    string        `json:"type"`
	Payload record.Object `json:"payload,omitempty"`
}

// Entry is one not-yet-confirmed remote mutation.
//
// Commit is dispatched when the effect succeeds, Rollback when the retry
// policy discards the entry.
type Entry struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	Effect    Effect    `json:"effect"`
	Commit    Action    `json:"commit"`
	Rollback  Action    `json:"rollback"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy of the entry.
func (e Entry) Clone() Entry {
	e.Effect.Body = slices.Clone(e.Effect.Body)
	e.Effect.Headers = maps.Clone(e.Effect.Headers)
	e.Commit.Payload = e.Commit.Payload.Clone()
	e.Rollback.Payload = e.Rollback.Payload.Clone()
	return e
}

// String returns a short description for logs, e.g. "PUT /items/1".
func (e Effect) String() string {
	return e.Method + " " + e.URL
}
