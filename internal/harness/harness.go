package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/offsync/internal/auth"
	"github.com/roach88/offsync/internal/connectivity"
	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/outbox"
	"github.com/roach88/offsync/internal/record"
	"github.com/roach88/offsync/internal/replica"
	"github.com/roach88/offsync/internal/store"
	"github.com/roach88/offsync/internal/syncerr"
	"github.com/roach88/offsync/internal/testutil"
)

// stepTimeout bounds a single step so a stuck replay fails the scenario.
const stepTimeout = 5 * time.Second

// Harness is the scenario execution environment: a Replica wired to an
// in-memory store, a fake remote service and a manual connectivity source.
type Harness struct {
	scenario *Scenario
	rec      *testutil.Recorder
	remote   *testutil.FakeRemote
	conn     *connectivity.Manual
	backend  store.Backend
	creds    auth.Source
	ids      outbox.IDGenerator

	replica     *replica.Replica
	unsubscribe func()
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory store for isolation.
// Execution flow:
//  1. Seed the fake remote service and build the Replica
//  2. Execute steps, checking expect clauses
//  3. Evaluate assertions against the trace and final state
//
// A non-nil error means the harness itself could not run; scenario
// failures are reported through Result.
func Run(scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.close()

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(step); !matchesExpect(err, step.Expect) {
			result.AddError(fmt.Sprintf("steps[%d] %s: %s", i, step.Action, describeOutcome(err, step.Expect)))
		}
	}

	result.Trace = h.rec.Lines()
	result.Records = h.replica.Records()
	result.Remote = h.remote.Records()
	result.Queue = h.replica.QueueLen()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	rec := testutil.NewRecorder()
	fake := testutil.NewFakeRemote(rec)

	seed, err := toSet(scenario.Remote.Records)
	if err != nil {
		return nil, fmt.Errorf("remote records: %w", err)
	}
	fake.Seed(seed)

	var creds auth.Source = auth.NewStatic("")
	if scenario.Remote.Token != "" {
		tokens := testutil.NewTokenSequence(rec)
		fake.RequireToken(scenario.Remote.Token)
		fake.UseCredentials(tokens)
		creds = tokens
	}

	h := &Harness{
		scenario: scenario,
		rec:      rec,
		remote:   fake,
		conn:     connectivity.NewManual(scenario.Online),
		backend:  store.NewMemory(),
		creds:    creds,
		ids:      outbox.NewSequenceGenerator("e"),
	}
	if err := h.open(); err != nil {
		return nil, err
	}
	return h, nil
}

// open builds a Replica over the harness store. Background tasks stay off;
// sync drives replay on the calling goroutine.
func (h *Harness) open() error {
	rep, err := replica.New(context.Background(), replica.Deps{
		Backend:      h.backend,
		Remote:       h.remote,
		Connectivity: h.conn,
		Credentials:  h.creds,
	},
		replica.WithAutoStart(false),
		replica.WithIDGenerator(h.ids),
		replica.WithObserver(h.observe),
		replica.WithRetryPolicy(engine.FixedPolicy{
			Interval:            time.Millisecond,
			DiscardClientErrors: h.scenario.Policy.DiscardClientErrors,
			MaxAttempts:         h.scenario.Policy.MaxAttempts,
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to build replica: %w", err)
	}

	h.replica = rep
	h.unsubscribe = rep.Subscribe(h.notified)
	return nil
}

func (h *Harness) close() {
	h.unsubscribe()
	h.replica.Stop()
	_ = h.backend.Close()
}

func (h *Harness) observe(t engine.Transition) {
	if t.To == engine.StateInFlight {
		return
	}
	h.rec.Record("%s %s attempt=%d", t.EntryID, t.To, t.Attempt)
}

func (h *Harness) notified(set record.Set) {
	data, err := set.Canonical()
	if err != nil {
		h.rec.Record("notify <%v>", err)
		return
	}
	h.rec.Record("notify %s", data)
}

// execute runs one step and returns its error, if any.
func (h *Harness) execute(step Step) error {
	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	defer cancel()

	if step.Action == ActionWrite {
		h.rec.Record("> %s %s=%s", step.Action, step.ID, step.Name)
	} else {
		h.rec.Record("> %s", step.Action)
	}

	var err error
	switch step.Action {
	case ActionLoad:
		h.replica.Load(ctx)
	case ActionLoadLocal:
		h.replica.LoadLocal(ctx)
	case ActionWrite:
		err = h.replica.Write(ctx, step.ID, step.Name)
	case ActionRefresh:
		err = h.replica.Refresh(ctx)
	case ActionSync:
		err = h.replica.Sync(ctx)
	case ActionReconcile:
		if h.replica.Reconcile(ctx) {
			h.rec.Record("reconciled")
		} else {
			h.rec.Record("reconcile idle")
		}
	case ActionOnline:
		h.conn.Set(true)
	case ActionOffline:
		h.conn.Set(false)
	case ActionScript:
		h.remote.Script(step.Statuses...)
	case ActionRestart:
		h.unsubscribe()
		h.replica.Stop()
		if err = h.open(); err == nil {
			h.replica.LoadLocal(ctx)
		}
	default:
		err = fmt.Errorf("unknown action %q", step.Action)
	}

	if err != nil {
		h.rec.Record("! %s", errorKind(err))
	}
	return err
}

// errorKind names an error the way expect clauses do.
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, replica.ErrOffline):
		return "offline"
	case syncerr.CodeOf(err) != "":
		return string(syncerr.CodeOf(err))
	default:
		return "error"
	}
}

func matchesExpect(err error, expect *ExpectClause) bool {
	if expect == nil {
		return err == nil
	}
	return errorKind(err) == expect.Error
}

func describeOutcome(err error, expect *ExpectClause) string {
	switch {
	case expect == nil:
		return fmt.Sprintf("unexpected error: %v", err)
	case err == nil:
		return fmt.Sprintf("expected error %s, step succeeded", expect.Error)
	default:
		return fmt.Sprintf("expected error %s, got %s: %v", expect.Error, errorKind(err), err)
	}
}
