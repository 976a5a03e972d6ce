// Package testrunner runs generated test suites and turns their reports into
// comparable Report values.
package testrunner

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Runner executes one generated test file
type Runner interface {
	Run(ctx context.Context, testFile string) Report
}

// PytestRunner runs pytest with the pytest-json-report plugin inside a
// source directory
type PytestRunner struct {
	dir     string
	command []string
	env     []string
	logger  *zap.Logger
}

// NewPytestRunner creates a runner for test files under dir. command is the
// pytest invocation, e.g. "pytest" or "python -m pytest".
func NewPytestRunner(dir, command string, env []string, logger *zap.Logger) *PytestRunner {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		fields = []string{"pytest"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PytestRunner{dir: dir, command: fields, env: env, logger: logger}
}

// Run executes testFile and parses its JSON report. Failures to launch pytest
// or to read its report become OutcomeError reports.
func (r *PytestRunner) Run(ctx context.Context, testFile string) Report {
	reportDir, err := os.MkdirTemp("", "revolve-report-*")
	if err != nil {
		return ErrorReport("failed to create report directory: %v", err)
	}
	defer func() { _ = os.RemoveAll(reportDir) }()

	reportPath := filepath.Join(reportDir, "report.json")
	args := append(r.command[1:len(r.command):len(r.command)],
		testFile,
		"--json-report",
		"--json-report-file="+reportPath,
		"--log-cli-level=DEBUG",
		"--show-capture=all",
		"-q",
	)

	cmd := exec.CommandContext(ctx, r.command[0], args...)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(), r.env...)

	r.logger.Debug("running tests", zap.String("file", testFile), zap.Strings("args", args))
	output, runErr := cmd.CombinedOutput()

	// pytest exits non-zero when tests fail; the report is what matters
	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		return ErrorReport("failed to run pytest: %v", runErr)
	}
	if ctx.Err() != nil {
		return ErrorReport("test run cancelled: %v", ctx.Err())
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		r.logger.Warn("test report not generated",
			zap.String("file", testFile),
			zap.String("output", tail(string(output), 2000)))
		return ErrorReport("test report not generated, pytest might have failed before reporting")
	}

	report := ParseReport(data)
	r.logger.Debug("tests finished",
		zap.String("file", testFile),
		zap.String("outcome", string(report.Outcome)),
		zap.Int("failed", len(report.Failures)))
	return report
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
