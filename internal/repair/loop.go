// Package repair generates a test suite for one entity and repairs the
// entity's sources until the suite passes, the iteration budget runs out, or
// two consecutive runs produce the same summary.
package repair

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"

	"github.com/tordrt/revolve/internal/llm"
	"github.com/tordrt/revolve/internal/prompts"
	"github.com/tordrt/revolve/internal/testrunner"
	"github.com/tordrt/revolve/internal/vcs"
	"github.com/tordrt/revolve/internal/workspace"
)

// DefaultMaxIterations bounds revision attempts per entity
const DefaultMaxIterations = 3

// Files reads and writes generated sources
type Files interface {
	Read(name string) (string, error)
	Write(name, content string) error
}

// Entity is the per-table context a loop works from
type Entity struct {
	Table            string
	IndividualPrompt string
	Schema           string
}

// Examples are the reference sources included in prompts
type Examples struct {
	Test     string
	Resource string
	Utils    string
}

// Loop runs the generate-test-repair cycle. A Loop is safe for concurrent
// use on different records.
type Loop struct {
	Synth         llm.Client
	Runner        testrunner.Runner
	Files         Files
	Committer     vcs.Committer
	Logger        *zap.Logger
	Examples      Examples
	MaxIterations int
	Attempts      int
	SynthTimeout  time.Duration
	TestTimeout   time.Duration

	// OnEntry is called after every appended history entry
	OnEntry func(Record, HistoryEntry)
}

// Run drives rec to success or failed. Records already in a terminal state
// are returned unchanged.
func (l *Loop) Run(ctx context.Context, rec Record, entity Entity) Record {
	if rec.Status.Terminal() {
		return rec
	}

	logger := l.logger().With(zap.String("entity", rec.Entity))
	rec.Status = StatusInProgress
	rec.History = append([]HistoryEntry(nil), rec.History...)

	last := rec.LastReport()
	if rec.TestSource == "" {
		report, ok := l.create(ctx, &rec, entity, logger)
		if !ok {
			rec.Status = StatusFailed
			return rec
		}
		last = &report
	} else if last == nil {
		report := l.runTests(ctx, rec.TestFile)
		last = &report
	}

	for !last.Succeeded() && rec.Iterations < l.maxIterations() {
		if ctx.Err() != nil {
			logger.Warn("repair cancelled", zap.Error(ctx.Err()))
			break
		}

		after, ok := l.revise(ctx, &rec, entity, last, logger)
		if !ok {
			break
		}

		before := last
		last = &after
		if cmp.Equal(before.Summary, after.Summary, cmpopts.EquateEmpty()) {
			logger.Info("test summary unchanged, stopping repair", zap.Int("iteration", rec.Iterations))
			break
		}
	}

	if last.Succeeded() {
		rec.Status = StatusSuccess
	} else {
		rec.Status = StatusFailed
	}
	logger.Info("repair finished",
		zap.String("status", string(rec.Status)),
		zap.Int("iterations", rec.Iterations))
	return rec
}

// create synthesizes, saves and runs the first test suite
func (l *Loop) create(ctx context.Context, rec *Record, entity Entity, logger *zap.Logger) (testrunner.Report, bool) {
	apiSource, _ := l.Files.Read(workspace.APIFile)

	req := prompts.GenerateTest(prompts.TestInput{
		Table:          entity.Table,
		Schema:         entity.Schema,
		ResourceFile:   rec.ResourceFile,
		ResourceSource: rec.ResourceSource,
		TestExample:    l.Examples.Test,
		APISource:      apiSource,
		Utils:          l.Examples.Utils,
	})

	sctx, cancel := withTimeout(ctx, l.SynthTimeout)
	generated, err := llm.Synthesize[llm.GeneratedTest](sctx, l.Synth, req, l.attempts())
	cancel()
	if err != nil {
		logger.Warn("test generation failed", zap.Error(err))
		return testrunner.Report{}, false
	}

	rec.TestFile = workspace.TestFileName(rec.ResourceFile)
	rec.TestSource = generated.FullTestCode
	if err := l.Files.Write(rec.TestFile, rec.TestSource); err != nil {
		logger.Warn("failed to save test file", zap.Error(err))
		return testrunner.Report{}, false
	}
	vcs.CommitAndLog(ctx, l.committer(), logger, fmt.Sprintf("Add tests for %s", rec.Entity), "")

	report := l.runTests(ctx, rec.TestFile)
	l.append(rec, HistoryEntry{
		Kind:   KindCreation,
		Target: llm.TargetTest,
		Code:   rec.TestSource,
		Before: nil,
		After:  report,
		Time:   time.Now(),
		Prompt: promptOf(req),
	})
	logger.Debug("initial tests run",
		zap.Int("test_cases", generated.TestCaseCount),
		zap.String("outcome", string(report.Outcome)))
	return report, true
}

// revise applies one synthesized fix and reruns the suite
func (l *Loop) revise(ctx context.Context, rec *Record, entity Entity, last *testrunner.Report, logger *zap.Logger) (testrunner.Report, bool) {
	apiSource, _ := l.Files.Read(workspace.APIFile)

	req := prompts.ReviseTest(prompts.TestInput{
		Table:            entity.Table,
		IndividualPrompt: entity.IndividualPrompt,
		Schema:           entity.Schema,
		ResourceFile:     rec.ResourceFile,
		ResourceSource:   rec.ResourceSource,
		TestSource:       rec.TestSource,
		ResourceExample:  l.Examples.Resource,
		APISource:        apiSource,
		Utils:            l.Examples.Utils,
		LastReport:       last,
	})

	sctx, cancel := withTimeout(ctx, l.SynthTimeout)
	rev, err := llm.Synthesize[llm.Revision](sctx, l.Synth, req, l.attempts())
	cancel()
	if err != nil {
		logger.Warn("revision synthesis failed", zap.Error(err))
		return testrunner.Report{}, false
	}

	var file string
	switch rev.CodeType {
	case llm.TargetResource:
		file = rec.ResourceFile
		rec.ResourceSource = rev.NewCode
	case llm.TargetTest:
		file = rec.TestFile
		rec.TestSource = rev.NewCode
	case llm.TargetAPI:
		file = workspace.APIFile
	}
	if err := l.Files.Write(file, rev.NewCode); err != nil {
		logger.Warn("failed to save revision", zap.String("file", file), zap.Error(err))
		return testrunner.Report{}, false
	}

	rec.Iterations++
	after := l.runTests(ctx, rec.TestFile)

	before := *last
	l.append(rec, HistoryEntry{
		Kind:      KindRevision,
		Target:    rev.CodeType,
		Problem:   rev.Problem,
		Fix:       rev.Fix,
		Code:      rev.NewCode,
		Before:    &before,
		After:     after,
		Iteration: rec.Iterations,
		Time:      time.Now(),
		Prompt:    promptOf(req),
	})

	vcs.CommitAndLog(ctx, l.committer(), logger,
		fmt.Sprintf("Revise %s for %s (iteration %d)", rev.CodeType, rec.Entity, rec.Iterations),
		fmt.Sprintf("Problem: %s\nFix: %s", rev.Problem, rev.Fix))

	logger.Debug("revision applied",
		zap.String("target", rev.CodeType),
		zap.Int("iteration", rec.Iterations),
		zap.String("outcome", string(after.Outcome)))
	return after, true
}

func (l *Loop) append(rec *Record, entry HistoryEntry) {
	rec.History = append(rec.History, entry)
	if l.OnEntry != nil {
		l.OnEntry(*rec, entry)
	}
}

func (l *Loop) runTests(ctx context.Context, testFile string) testrunner.Report {
	tctx, cancel := withTimeout(ctx, l.TestTimeout)
	defer cancel()
	return l.Runner.Run(tctx, testFile)
}

func (l *Loop) maxIterations() int {
	if l.MaxIterations <= 0 {
		return DefaultMaxIterations
	}
	return l.MaxIterations
}

func (l *Loop) attempts() int {
	if l.Attempts <= 0 {
		return llm.DefaultAttempts
	}
	return l.Attempts
}

func (l *Loop) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (l *Loop) committer() vcs.Committer {
	if l.Committer == nil {
		return vcs.Nop{}
	}
	return l.Committer
}
