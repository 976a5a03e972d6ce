package testrunner

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Outcome is the overall result of one test run
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeError   Outcome = "error"
)

// Failure describes one failing test or collector
type Failure struct {
	Name       string   `json:"name"`
	Outcome    string   `json:"outcome"`
	Phase      string   `json:"phase"`
	Diagnostic string   `json:"diagnostic"`
	Stdout     string   `json:"stdout,omitempty"`
	Stderr     string   `json:"stderr,omitempty"`
	Logs       []string `json:"logs,omitempty"`
}

// Summary holds the counts the repair loop compares between runs
type Summary struct {
	Total            int      `json:"total"`
	Collected        int      `json:"collected"`
	Passed           int      `json:"passed"`
	Failed           int      `json:"failed"`
	Errors           int      `json:"errors"`
	Skipped          int      `json:"skipped"`
	PassedPercentage float64  `json:"passed_percentage"`
	FailedTests      []string `json:"failed_tests,omitempty"`
}

// Report is the structured result of running a test file
type Report struct {
	Outcome  Outcome   `json:"outcome"`
	Message  string    `json:"message"`
	Failures []Failure `json:"failures,omitempty"`
	Summary  Summary   `json:"summary"`
}

// Succeeded reports whether every test passed
func (r Report) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// ErrorReport builds a report for runs that produced no usable result
func ErrorReport(format string, args ...any) Report {
	return Report{Outcome: OutcomeError, Message: fmt.Sprintf(format, args...)}
}

// pytest-json-report layout
type jsonReport struct {
	ExitCode   int             `json:"exitcode"`
	Summary    jsonSummary     `json:"summary"`
	Tests      json.RawMessage `json:"tests"`
	Collectors []jsonCollector `json:"collectors"`
}

type jsonSummary struct {
	Total     int `json:"total"`
	Collected int `json:"collected"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`
	Error     int `json:"error"`
	Skipped   int `json:"skipped"`
}

type jsonTest struct {
	NodeID   string     `json:"nodeid"`
	Outcome  string     `json:"outcome"`
	Setup    *jsonPhase `json:"setup"`
	Call     *jsonPhase `json:"call"`
	Teardown *jsonPhase `json:"teardown"`
}

type jsonPhase struct {
	Outcome  string    `json:"outcome"`
	Longrepr string    `json:"longrepr"`
	Stdout   string    `json:"stdout"`
	Stderr   string    `json:"stderr"`
	Log      []jsonLog `json:"log"`
}

type jsonLog struct {
	Msg string `json:"msg"`
}

type jsonCollector struct {
	NodeID   string `json:"nodeid"`
	Outcome  string `json:"outcome"`
	Longrepr string `json:"longrepr"`
}

// ParseReport converts a pytest-json-report document into a Report.
//
// Collection errors and runs that collected no tests yield OutcomeError, so
// callers can tell a broken suite from one whose tests ran and failed.
func ParseReport(data []byte) Report {
	var raw jsonReport
	if err := json.Unmarshal(data, &raw); err != nil {
		return ErrorReport("error decoding test report: %v", err)
	}

	tests, err := decodeTests(raw.Tests)
	if err != nil {
		return ErrorReport("error decoding test entries: %v", err)
	}

	summary := Summary{
		Total:     raw.Summary.Total,
		Collected: raw.Summary.Collected,
		Passed:    raw.Summary.Passed,
		Failed:    raw.Summary.Failed,
		Errors:    raw.Summary.Error,
		Skipped:   raw.Summary.Skipped,
	}

	var failures []Failure
	for _, test := range tests {
		if test.Outcome == "passed" || test.Outcome == "skipped" {
			continue
		}
		failures = append(failures, failureFromTest(test))
	}

	// Collector errors only matter when no individual test failed
	if len(failures) == 0 {
		var collectErrs []Failure
		for _, c := range raw.Collectors {
			if c.Outcome != "failed" {
				continue
			}
			diag := c.Longrepr
			if diag == "" {
				diag = "unknown error during collection"
			}
			collectErrs = append(collectErrs, Failure{
				Name:       c.NodeID,
				Outcome:    "collection_failed",
				Phase:      "collect",
				Diagnostic: diag,
			})
		}
		if len(collectErrs) > 0 {
			summary.FailedTests = failureNames(collectErrs)
			return Report{
				Outcome:  OutcomeError,
				Message:  "test collection failed",
				Failures: collectErrs,
				Summary:  summary,
			}
		}
	}

	if len(tests) == 0 {
		return Report{Outcome: OutcomeError, Message: "no tests collected", Summary: summary}
	}

	if len(failures) == 0 {
		summary.PassedPercentage = 1
		return Report{Outcome: OutcomeSuccess, Message: "all tests passed", Summary: summary}
	}

	summary.FailedTests = failureNames(failures)
	summary.PassedPercentage = math.Round((1-float64(len(failures))/float64(len(tests)))*100) / 100
	return Report{
		Outcome:  OutcomeFailed,
		Message:  "some tests failed",
		Failures: failures,
		Summary:  summary,
	}
}

// decodeTests accepts both the list and the keyed-object forms of "tests"
func decodeTests(raw json.RawMessage) ([]jsonTest, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var list []jsonTest
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var keyed map[string]jsonTest
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, err
	}
	for _, t := range keyed {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].NodeID < list[j].NodeID })
	return list, nil
}

func failureFromTest(test jsonTest) Failure {
	phase, details := "unknown", (*jsonPhase)(nil)
	switch {
	case test.Call != nil:
		phase, details = "call", test.Call
	case test.Setup != nil:
		phase, details = "setup", test.Setup
	case test.Teardown != nil:
		phase, details = "teardown", test.Teardown
	}

	f := Failure{Name: test.NodeID, Outcome: test.Outcome, Phase: phase}
	if f.Name == "" {
		f.Name = "unknown"
	}
	if details != nil {
		f.Diagnostic = details.Longrepr
		f.Stdout = details.Stdout
		f.Stderr = details.Stderr
		for _, l := range details.Log {
			f.Logs = append(f.Logs, l.Msg)
		}
	}
	return f
}

func failureNames(failures []Failure) []string {
	names := make([]string, 0, len(failures))
	for _, f := range failures {
		names = append(names, f.Name)
	}
	return names
}
