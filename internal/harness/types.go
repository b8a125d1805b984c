package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/offsync/internal/record"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds every recorded line in order.
	Trace []string `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Records is the local record set after the last step.
	Records record.Set `json:"records"`

	// Remote is the remote record set after the last step.
	Remote record.Set `json:"remote"`

	// Queue is the number of outbox entries left.
	Queue int `json:"queue"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []string{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Snapshot renders the trace and final state as text for golden comparison.
func (r *Result) Snapshot() ([]byte, error) {
	local, err := r.Records.Canonical()
	if err != nil {
		return nil, fmt.Errorf("encode local records: %w", err)
	}
	remote, err := r.Remote.Canonical()
	if err != nil {
		return nil, fmt.Errorf("encode remote records: %w", err)
	}

	var buf strings.Builder
	for _, line := range r.Trace {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	buf.WriteString("---\n")
	fmt.Fprintf(&buf, "records %s\n", local)
	fmt.Fprintf(&buf, "remote %s\n", remote)
	fmt.Fprintf(&buf, "queue %d\n", r.Queue)
	return []byte(buf.String()), nil
}
