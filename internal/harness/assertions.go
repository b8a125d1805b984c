package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/offsync/internal/record"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Trace    []string // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, line := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, line)
		}
	}

	return buf.String()
}

// EvaluateAssertions runs every assertion against result and returns the
// failure messages, in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	case AssertFinalRecords:
		return assertRecords(AssertFinalRecords, result.Records, a)
	case AssertRemoteRecords:
		return assertRecords(AssertRemoteRecords, result.Remote, a)
	case AssertQueueLen:
		return assertQueueLen(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertTraceContains checks that some trace line equals the expected line.
func assertTraceContains(trace []string, assertion Assertion) error {
	for _, line := range trace {
		if line == assertion.Line {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("line %q", assertion.Line),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the lines appear in the specified order.
// Lines don't need to be consecutive (intervening lines are allowed); each
// expected line is matched after the previous match.
func assertTraceOrder(trace []string, assertion Assertion) error {
	pos := 0
	for _, want := range assertion.Lines {
		found := false
		for pos < len(trace) {
			line := trace[pos]
			pos++
			if line == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("lines in order: %q", assertion.Lines),
				Actual:   fmt.Sprintf("%q missing or out of order", want),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that exactly Count lines start with Prefix.
func assertTraceCount(trace []string, assertion Assertion) error {
	count := 0
	for _, line := range trace {
		if strings.HasPrefix(line, assertion.Prefix) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d lines starting with %q", assertion.Count, assertion.Prefix),
			Actual:   fmt.Sprintf("%d lines", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertRecords compares a record set by canonical encoding, so order and
// extra fields count.
func assertRecords(kind string, actual record.Set, assertion Assertion) error {
	want, err := toSet(assertion.Records)
	if err != nil {
		return err
	}
	wantJSON, err := want.Canonical()
	if err != nil {
		return err
	}
	gotJSON, err := actual.Canonical()
	if err != nil {
		return err
	}

	if string(wantJSON) != string(gotJSON) {
		return &AssertionError{
			Type:     kind,
			Expected: string(wantJSON),
			Actual:   string(gotJSON),
		}
	}
	return nil
}

func assertQueueLen(result *Result, assertion Assertion) error {
	if result.Queue != assertion.Count {
		return &AssertionError{
			Type:     AssertQueueLen,
			Expected: fmt.Sprintf("%d outbox entries", assertion.Count),
			Actual:   fmt.Sprintf("%d outbox entries", result.Queue),
		}
	}
	return nil
}
