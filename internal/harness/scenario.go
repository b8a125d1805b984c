package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/offsync/internal/record"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Online is the initial reachability of the remote service.
	Online bool `yaml:"online"`

	// Remote is the initial state of the remote service.
	Remote RemoteSetup `yaml:"remote,omitempty"`

	// Policy configures the replay retry policy. Retries wait 1ms.
	Policy PolicySetup `yaml:"policy,omitempty"`

	// Steps are executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// RemoteSetup seeds the in-memory remote service.
type RemoteSetup struct {
	// Records is the initial server-side record set.
	Records []RecordSpec `yaml:"records,omitempty"`

	// Token, when set, is the only bearer token the service accepts.
	// Credentials start at t0 and advance by one on every refresh.
	Token string `yaml:"token,omitempty"`
}

// PolicySetup mirrors engine.FixedPolicy.
type PolicySetup struct {
	DiscardClientErrors bool `yaml:"discard_client_errors,omitempty"`
	MaxAttempts         int  `yaml:"max_attempts,omitempty"`
}

// RecordSpec is a record written in a scenario file.
type RecordSpec struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Step is one action applied to the replica or its environment.
type Step struct {
	// Action is one of the Action* constants.
	Action string `yaml:"action"`

	// ID and Name are the arguments of write.
	ID   string `yaml:"id,omitempty"`
	Name string `yaml:"name,omitempty"`

	// Statuses are the arguments of script.
	Statuses []int `yaml:"statuses,omitempty"`

	// Expect checks the step's outcome. Without it the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Error is the expected error kind: "offline", a syncerr code such as
	// "REMOTE_SERVICE", or "error" for any other failure.
	Error string `yaml:"error"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Line is the expected trace line (trace_contains).
	Line string `yaml:"line,omitempty"`

	// Lines is the expected line order (trace_order).
	Lines []string `yaml:"lines,omitempty"`

	// Prefix selects the lines to count (trace_count).
	Prefix string `yaml:"prefix,omitempty"`

	// Count is the expected number (trace_count, queue_len).
	Count int `yaml:"count,omitempty"`

	// Records is the expected record set (final_records, remote_records).
	Records []RecordSpec `yaml:"records,omitempty"`
}

// Step action constants.
const (
	ActionLoad      = "load"
	ActionLoadLocal = "load_local"
	ActionWrite     = "write"
	ActionRefresh   = "refresh"
	ActionSync      = "sync"
	ActionReconcile = "reconcile"
	ActionOnline    = "online"
	ActionOffline   = "offline"
	ActionScript    = "script"
	ActionRestart   = "restart"
)

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalRecords  = "final_records"
	AssertRemoteRecords = "remote_records"
	AssertQueueLen      = "queue_len"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Policy.MaxAttempts < 0 {
		return fmt.Errorf("policy.max_attempts must be non-negative")
	}
	if _, err := toSet(s.Remote.Records); err != nil {
		return fmt.Errorf("remote.records: %w", err)
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s *Step) error {
	switch s.Action {
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	case ActionWrite:
		if s.ID == "" {
			return fmt.Errorf("steps[%d]: id is required for write", index)
		}
	case ActionScript:
		if len(s.Statuses) == 0 {
			return fmt.Errorf("steps[%d]: statuses are required for script", index)
		}
	case ActionLoad, ActionLoadLocal, ActionRefresh, ActionSync, ActionReconcile,
		ActionOnline, ActionOffline, ActionRestart:
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, s.Action)
	}

	if s.Expect != nil && s.Expect.Error == "" {
		return fmt.Errorf("steps[%d].expect: error is required", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Line == "" {
			return fmt.Errorf("assertions[%d]: line is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Lines) == 0 {
			return fmt.Errorf("assertions[%d]: lines list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Prefix == "" {
			return fmt.Errorf("assertions[%d]: prefix is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalRecords, AssertRemoteRecords:
		if _, err := toSet(a.Records); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertQueueLen:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for queue_len", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// toSet converts scenario records to a record.Set. An empty list is an
// empty, non-nil set.
func toSet(specs []RecordSpec) (record.Set, error) {
	set := make(record.Set, 0, len(specs))
	for _, s := range specs {
		set = append(set, record.Record{ID: s.ID, Name: s.Name})
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}
