package formatter

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/tordrt/revolve/internal/llm"
	"github.com/tordrt/revolve/internal/repair"
)

// Report file names inside the generated project
const (
	TestReportFile  = "test_status_report.md"
	TestHistoryFile = "test_status_history.json"
	FineTuneFile    = "ft_data.json"
)

// WriteTestReport writes the markdown test status report for a run
func WriteTestReport(w io.Writer, task string, records []repair.Record) {
	_, _ = fmt.Fprintf(w, "# Test Report\n\n")
	_, _ = fmt.Fprintf(w, "## Task: %s\n\n", task)

	for _, rec := range records {
		_, _ = fmt.Fprintln(w, "---")
		_, _ = fmt.Fprintf(w, "### %s\n", rec.ResourceFile)
		_, _ = fmt.Fprintf(w, "- **Entity:** `%s`\n", rec.Entity)
		_, _ = fmt.Fprintf(w, "- **Test Status:** `%s`\n", rec.Status)
		_, _ = fmt.Fprintf(w, "- **Iteration Count:** `%d`\n", rec.Iterations)
		if rec.SkipReason != "" {
			_, _ = fmt.Fprintf(w, "- **Skipped:** %s\n", rec.SkipReason)
		}
		_, _ = fmt.Fprintln(w)

		last := rec.LastReport()
		if last == nil {
			continue
		}

		s := last.Summary
		_, _ = fmt.Fprintln(w, "- **Test Summary:**")
		_, _ = fmt.Fprintf(w, "  - **outcome:** `%s`\n", last.Outcome)
		_, _ = fmt.Fprintf(w, "  - **total:** `%d`\n", s.Total)
		_, _ = fmt.Fprintf(w, "  - **collected:** `%d`\n", s.Collected)
		_, _ = fmt.Fprintf(w, "  - **passed:** `%d`\n", s.Passed)
		_, _ = fmt.Fprintf(w, "  - **failed:** `%d`\n", s.Failed)
		_, _ = fmt.Fprintf(w, "  - **errors:** `%d`\n", s.Errors)
		_, _ = fmt.Fprintf(w, "  - **skipped:** `%d`\n", s.Skipped)
		_, _ = fmt.Fprintf(w, "  - **passed_percentage:** `%.2f`\n", s.PassedPercentage)
		if len(s.FailedTests) > 0 {
			_, _ = fmt.Fprintln(w, "  - **failed_tests:**")
			for _, name := range s.FailedTests {
				_, _ = fmt.Fprintf(w, "    - `%s`\n", name)
			}
		}
		_, _ = fmt.Fprintln(w)
	}
}

// TestHistoryJSON encodes every record with its full history
func TestHistoryJSON(records []repair.Record) ([]byte, error) {
	if records == nil {
		records = []repair.Record{}
	}
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode test history: %w", err)
	}
	return data, nil
}

// FineTuneSample pairs the request behind a passing suite with the code the
// model answered
type FineTuneSample struct {
	Entity     string        `json:"entity"`
	Kind       repair.Kind   `json:"kind"`
	System     string        `json:"system,omitempty"`
	Messages   []llm.Message `json:"messages"`
	Completion string        `json:"completion"`
}

// FineTuneSamples collects the last prompt of every successful record.
// Records whose last entry carries no prompt are left out.
func FineTuneSamples(records []repair.Record) []FineTuneSample {
	var samples []FineTuneSample
	for _, rec := range records {
		if rec.Status != repair.StatusSuccess || len(rec.History) == 0 {
			continue
		}
		last := rec.History[len(rec.History)-1]
		if last.Prompt == nil {
			continue
		}
		samples = append(samples, FineTuneSample{
			Entity:     rec.Entity,
			Kind:       last.Kind,
			System:     last.Prompt.System,
			Messages:   last.Prompt.Messages,
			Completion: last.Code,
		})
	}
	return samples
}

// FineTuneJSON encodes the fine-tuning samples of a run
func FineTuneJSON(samples []FineTuneSample) ([]byte, error) {
	data, err := json.MarshalIndent(samples, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode fine-tuning data: %w", err)
	}
	return data, nil
}
