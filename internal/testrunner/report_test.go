package testrunner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReport(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		wantOutcome Outcome
		wantFailed  []string
		wantPercent float64
	}{
		{
			name: "all passed",
			data: `{"summary": {"passed": 2, "total": 2, "collected": 2},
				"tests": [{"nodeid": "t.py::a", "outcome": "passed"}, {"nodeid": "t.py::b", "outcome": "passed"}]}`,
			wantOutcome: OutcomeSuccess,
			wantPercent: 1,
		},
		{
			name: "some failed",
			data: `{"summary": {"passed": 3, "failed": 1, "total": 4, "collected": 4},
				"tests": [
					{"nodeid": "t.py::a", "outcome": "passed"},
					{"nodeid": "t.py::b", "outcome": "passed"},
					{"nodeid": "t.py::c", "outcome": "passed"},
					{"nodeid": "t.py::d", "outcome": "failed", "call": {"longrepr": "assert 500 == 200", "log": [{"msg": "boom"}]}}
				]}`,
			wantOutcome: OutcomeFailed,
			wantFailed:  []string{"t.py::d"},
			wantPercent: 0.75,
		},
		{
			name: "collection error",
			data: `{"summary": {"total": 0, "collected": 0},
				"tests": [],
				"collectors": [{"nodeid": "t.py", "outcome": "failed", "longrepr": "ImportError: no module named users"}]}`,
			wantOutcome: OutcomeError,
			wantFailed:  []string{"t.py"},
		},
		{
			name:        "no tests collected",
			data:        `{"summary": {"total": 0}, "tests": []}`,
			wantOutcome: OutcomeError,
		},
		{
			name:        "malformed report",
			data:        `{"summary": `,
			wantOutcome: OutcomeError,
		},
		{
			name: "keyed tests",
			data: `{"summary": {"failed": 1, "passed": 1, "total": 2},
				"tests": {"b": {"nodeid": "t.py::b", "outcome": "failed", "setup": {"longrepr": "fixture error"}},
				          "a": {"nodeid": "t.py::a", "outcome": "passed"}}}`,
			wantOutcome: OutcomeFailed,
			wantFailed:  []string{"t.py::b"},
			wantPercent: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := ParseReport([]byte(tt.data))
			assert.Equal(t, tt.wantOutcome, report.Outcome)
			assert.Equal(t, tt.wantFailed, report.Summary.FailedTests)
			assert.InDelta(t, tt.wantPercent, report.Summary.PassedPercentage, 0.001)
		})
	}
}

func TestParseReportFailureDetails(t *testing.T) {
	report := ParseReport([]byte(`{"summary": {"failed": 1, "total": 1},
		"tests": [{"nodeid": "t.py::d", "outcome": "failed",
			"setup": {"longrepr": ""},
			"call": {"longrepr": "assert 500 == 200", "stdout": "out", "stderr": "err", "log": [{"msg": "first"}, {"msg": "second"}]}}]}`))

	require.Len(t, report.Failures, 1)
	f := report.Failures[0]
	assert.Equal(t, "call", f.Phase)
	assert.Equal(t, "assert 500 == 200", f.Diagnostic)
	assert.Equal(t, "out", f.Stdout)
	assert.Equal(t, "err", f.Stderr)
	assert.Equal(t, []string{"first", "second"}, f.Logs)
	assert.False(t, report.Succeeded())
}

func TestErrorReport(t *testing.T) {
	report := ErrorReport("pytest exited with %d", 4)
	assert.Equal(t, OutcomeError, report.Outcome)
	assert.Equal(t, "pytest exited with 4", report.Message)
}
