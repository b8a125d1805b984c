package harness

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

func TestScenarioSuite(t *testing.T) {
	scenarios, err := LoadSuite("testdata/scenarios")
	require.NoError(t, err)
	require.Len(t, scenarios, 5)

	for _, scenario := range scenarios {
		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRunIsDeterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/durable_restart.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
}

func TestRunReportsUnexpectedStepError(t *testing.T) {
	scenario := &Scenario{
		Name:        "offline_sync",
		Description: "sync without expect while offline",
		Steps:       []Step{{Action: ActionSync}},
		Assertions:  []Assertion{{Type: AssertQueueLen}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "steps[0] sync: unexpected error")
	assert.Equal(t, []string{"> sync", "! offline"}, result.Trace)
}

func TestRunReportsMissingExpectedError(t *testing.T) {
	scenario := &Scenario{
		Name:        "online_sync",
		Description: "sync expecting a failure that does not happen",
		Online:      true,
		Steps:       []Step{{Action: ActionSync, Expect: &ExpectClause{Error: "offline"}}},
		Assertions:  []Assertion{{Type: AssertQueueLen}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected error offline, step succeeded")
}

func TestRunMatchesSyncErrorCode(t *testing.T) {
	scenario := &Scenario{
		Name:        "fetch_fails",
		Description: "sync whose final fetch is rejected",
		Online:      true,
		Steps: []Step{
			{Action: ActionScript, Statuses: []int{500}},
			{Action: ActionSync, Expect: &ExpectClause{Error: "REMOTE_SERVICE"}},
		},
		Assertions: []Assertion{{Type: AssertTraceContains, Line: "GET /items -> 500"}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Contains(t, result.Trace, "! REMOTE_SERVICE")
}

func TestRunFailedAssertion(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong_records",
		Description: "final_records mismatch",
		Online:      true,
		Remote:      RemoteSetup{Records: []RecordSpec{{ID: "1", Name: "a"}}},
		Steps:       []Step{{Action: ActionLoad}},
		Assertions: []Assertion{{
			Type:    AssertFinalRecords,
			Records: []RecordSpec{{ID: "1", Name: "b"}},
		}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `"name":"a"`)
	assert.Contains(t, result.Errors[0], `"name":"b"`)
}

func TestRunMaxAttemptsRollsBack(t *testing.T) {
	scenario := &Scenario{
		Name:        "max_attempts",
		Description: "entry discarded after two failures",
		Online:      true,
		Policy:      PolicySetup{MaxAttempts: 2},
		Steps: []Step{
			{Action: ActionWrite, ID: "1", Name: "a"},
			{Action: ActionScript, Statuses: []int{503, 503}},
			{Action: ActionSync},
		},
		Assertions: []Assertion{
			{Type: AssertTraceContains, Line: "e-0001 ROLLED_BACK attempt=2"},
			{Type: AssertFinalRecords, Records: []RecordSpec{}},
			{Type: AssertQueueLen, Count: 0},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestResultSnapshot(t *testing.T) {
	result := NewResult()
	result.Trace = []string{"> load", "GET /items -> 200"}
	result.Queue = 2

	snapshot, err := result.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "> load\nGET /items -> 200\n---\nrecords []\nremote []\nqueue 2\n", string(snapshot))
}

func TestAddErrorFailsResult(t *testing.T) {
	result := NewResult()
	assert.True(t, result.Pass)

	result.AddError("boom")
	assert.False(t, result.Pass)
	assert.Equal(t, []string{"boom"}, result.Errors)
}
