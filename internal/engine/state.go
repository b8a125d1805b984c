package engine

// EntryState is the replay state of one outbox entry.
type EntryState int

const (
	// StatePending is an entry waiting in the queue.
	StatePending EntryState = iota
	// StateInFlight is the entry whose effect is being executed.
	StateInFlight
	// StateCommitted is an entry the remote service accepted.
	StateCommitted
	// StateRetryScheduled is an entry that failed and waits for the backoff delay.
	StateRetryScheduled
	// StateRolledBack is an entry the retry policy discarded.
	StateRolledBack
)

// String returns the state name used in logs and traces.
func (s EntryState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateInFlight:
		return "IN_FLIGHT"
	case StateCommitted:
		return "COMMITTED"
	case StateRetryScheduled:
		return "RETRY_SCHEDULED"
	case StateRolledBack:
		return "ROLLED_BACK"
	default:
		return "UNKNOWN"
	}
}

// Transition reports one state change of an entry.
type Transition struct {
	EntryID string
	From    EntryState
	To      EntryState
	Attempt int
	Err     error
}
