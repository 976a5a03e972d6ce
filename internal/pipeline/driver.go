// Package pipeline composes schema introspection, code synthesis, the
// workflow engine and the repair loop into one streaming run.
//
// A Driver owns the collaborators. Each call to Run builds a fresh graph
// over them, runs it on its own goroutine and forwards the newest trace
// record of every step to the returned channel as a progress event.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tordrt/revolve/internal/config"
	"github.com/tordrt/revolve/internal/llm"
	"github.com/tordrt/revolve/internal/progress"
	"github.com/tordrt/revolve/internal/schema"
	"github.com/tordrt/revolve/internal/store"
	"github.com/tordrt/revolve/internal/testrunner"
	"github.com/tordrt/revolve/internal/tools"
	"github.com/tordrt/revolve/internal/vcs"
	"github.com/tordrt/revolve/internal/workflow"
	"github.com/tordrt/revolve/internal/workspace"
)

// eventBuffer is the capacity of a run's event channel
const eventBuffer = 64

// Database is the introspection side of the connected database
type Database interface {
	Ping(ctx context.Context) error
	ExtractSchema(ctx context.Context, tables []string) (*schema.Schema, error)
}

// Repo is a version-controlled workspace
type Repo interface {
	vcs.Committer
	Init(ctx context.Context) error
	CreateBranch(ctx context.Context, name string) error
}

// Task is one request to the pipeline
type Task struct {
	Messages []llm.Message
	// Tables restricts introspection; empty uses the configured tables
	Tables []string
	// TestMode overrides test.enabled when set
	TestMode *bool
}

// NewTask builds a task from a single prompt
func NewTask(prompt string) Task {
	return Task{Messages: []llm.Message{llm.UserMessage(prompt)}}
}

// Prompt returns the text of the newest user message
func (t Task) Prompt() string {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].Role == llm.RoleUser && t.Messages[i].Text != "" {
			return t.Messages[i].Text
		}
	}
	return ""
}

// Driver runs tasks against its collaborators. Repo, Store and Tools are
// optional.
type Driver struct {
	Config    *config.Config
	DB        Database
	Synth     llm.Client
	Runner    testrunner.Runner
	Workspace *workspace.Workspace
	Repo      Repo
	Store     store.Store
	Tools     *tools.Registry
	Logger    *zap.Logger
}

// Run starts a run and returns its event stream. The stream ends with one
// done or error event and is then closed. Callers that stop reading must
// cancel ctx.
func (d *Driver) Run(ctx context.Context, task Task) <-chan progress.Event {
	events := make(chan progress.Event, eventBuffer)
	runID := uuid.NewString()

	go func() {
		defer close(events)
		d.run(ctx, runID, task, progress.NewChannelSink(events, ctx.Done()))
	}()
	return events
}

func (d *Driver) run(ctx context.Context, runID string, task Task, sink progress.Sink) {
	logger := d.logger().With(zap.String("run_id", runID))
	emit := func(name, text string, status progress.Status, level progress.Level) {
		sink.Emit(progress.Event{RunID: runID, Name: name, Text: text, Status: status, Level: level})
	}

	pctx, cancel := context.WithTimeout(ctx, d.Config.Database.PingTimeout)
	err := d.DB.Ping(pctx)
	cancel()
	if err != nil {
		logger.Error("database is unreachable", zap.Error(err))
		emit("connectivity", fmt.Sprintf("Database is unreachable: %v", err), progress.StatusError, progress.LevelSystem)
		return
	}

	d.prepareRepo(ctx, logger)
	if d.Store != nil {
		if err := d.Store.CreateRun(ctx, runID, task.Prompt()); err != nil {
			logger.Warn("failed to record run", zap.Error(err))
		}
	}

	state := &workflow.State{
		RunID:    runID,
		Task:     task.Prompt(),
		Messages: append([]llm.Message(nil), task.Messages...),
	}
	graph := d.BuildGraph(task, logger)
	graph.Observer = workflow.ObserverFunc(func(node workflow.Node, _ *workflow.State, u workflow.Update) {
		if len(u.Trace) == 0 {
			return
		}
		trace := u.Trace[len(u.Trace)-1]
		emit(string(trace.Step), trace.Description, progress.StatusProcessing, levelFor(node))
	})

	logger.Info("run started", zap.String("task", state.Task))
	err = graph.Run(ctx, state)
	if err != nil {
		logger.Error("run failed", zap.Error(err))
		emit("workflow", err.Error(), progress.StatusError, progress.LevelSystem)
		d.finish(ctx, runID, store.RunFailed, err.Error(), logger)
		return
	}

	logger.Info("run finished",
		zap.Int("artifacts", len(state.Artifacts)),
		zap.Int("records", len(state.Records)))
	emit("workflow", summarize(state), progress.StatusDone, progress.LevelSystem)
	d.finish(ctx, runID, store.RunDone, "", logger)
}

// prepareRepo initializes the workspace repository and switches to a fresh
// branch for the run. Failures are logged and the run continues.
func (d *Driver) prepareRepo(ctx context.Context, logger *zap.Logger) {
	if d.Repo == nil {
		return
	}
	if err := d.Repo.Init(ctx); err != nil {
		logger.Warn("failed to initialize repository", zap.Error(err))
		return
	}

	branch := fmt.Sprintf("%s/%s", d.Config.Git.BranchPrefix, time.Now().Format("20060102-150405"))
	if err := d.Repo.CreateBranch(ctx, branch); err != nil {
		logger.Warn("failed to create branch", zap.String("branch", branch), zap.Error(err))
		return
	}
	logger.Info("working on branch", zap.String("branch", branch))
}

func (d *Driver) finish(ctx context.Context, runID, status, errMsg string, logger *zap.Logger) {
	if d.Store == nil {
		return
	}
	if err := d.Store.FinishRun(context.WithoutCancel(ctx), runID, status, errMsg); err != nil {
		logger.Warn("failed to finish run", zap.Error(err))
	}
}

func (d *Driver) committer() vcs.Committer {
	if d.Repo == nil {
		return vcs.Nop{}
	}
	return d.Repo
}

func (d *Driver) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// levelFor maps a step to the prominence of its events
func levelFor(node workflow.Node) progress.Level {
	switch node {
	case workflow.NodeTestAndRepair, workflow.NodeReport, workflow.NodeRespondBack, workflow.NodeOtherTasks:
		return progress.LevelWorkflow
	case workflow.NodeAssemble:
		return progress.LevelNotification
	default:
		return progress.LevelSystem
	}
}

func summarize(s *workflow.State) string {
	if len(s.Records) == 0 {
		return "Workflow finished."
	}

	counts := make(map[string]int)
	for _, rec := range s.Records {
		counts[string(rec.Status)]++
	}
	parts := make([]string, 0, len(counts))
	for _, status := range []string{"success", "failed", "skipped"} {
		if n := counts[status]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, status))
		}
	}
	return fmt.Sprintf("Workflow finished: %s.", strings.Join(parts, ", "))
}
