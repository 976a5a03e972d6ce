package pipeline

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/tordrt/revolve/internal/config"
	"github.com/tordrt/revolve/internal/depgraph"
	"github.com/tordrt/revolve/internal/formatter"
	"github.com/tordrt/revolve/internal/llm"
	"github.com/tordrt/revolve/internal/prompts"
	"github.com/tordrt/revolve/internal/schema"
	"github.com/tordrt/revolve/internal/tools"
	"github.com/tordrt/revolve/internal/vcs"
	"github.com/tordrt/revolve/internal/workflow"
	"github.com/tordrt/revolve/internal/workspace"
)

// steps holds the collaborators of one run
type steps struct {
	d        *Driver
	cfg      *config.Config
	task     Task
	tools    *tools.Registry
	commit   vcs.Committer
	testMode bool
	logger   *zap.Logger
}

// synthesize runs one structured synthesis call under the configured timeout
func synthesize[T any, P interface {
	*T
	llm.Validator
}](ctx context.Context, s *steps, req llm.Request) (T, error) {
	sctx, cancel := s.synthContext(ctx)
	defer cancel()
	return llm.Synthesize[T, P](sctx, s.d.Synth, req, s.cfg.LLM.MaxAttempts)
}

func (s *steps) synthContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.LLM.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.LLM.Timeout)
}

func (s *steps) classify(ctx context.Context, st workflow.State) (workflow.Update, error) {
	c, err := synthesize[llm.Classification](ctx, s, prompts.Classify(st.Messages))
	if err != nil {
		return workflow.Update{}, fmt.Errorf("failed to classify request: %w", err)
	}
	s.logger.Debug("request classified", zap.String("category", c.Category))

	description := "Prompt classified as a code generation task."
	if c.Category != llm.IntentCreateCRUD {
		description = fmt.Sprintf("Prompt classified as %s.", c.Category)
	}
	trace := workflow.NewTrace(workflow.NodeClassify, workflow.TraceStep, description)
	trace.Input = st.Task
	trace.Output = c.Category

	u := workflow.Update{Classification: c.Category, Trace: []workflow.TraceRecord{trace}}
	if c.Message != "" {
		u.Messages = []llm.Message{{Role: llm.RoleModel, Text: c.Message}}
	}
	return u, nil
}

// respondBack relays the answer the classifier already gave
func (s *steps) respondBack(_ context.Context, st workflow.State) (workflow.Update, error) {
	answer := "I can generate REST resources and tests for the tables of your database. What would you like to build?"
	if n := len(st.Messages); n > 0 && st.Messages[n-1].Role == llm.RoleModel && st.Messages[n-1].Text != "" {
		answer = st.Messages[n-1].Text
	}

	trace := workflow.NewTrace(workflow.NodeRespondBack, workflow.TraceStep, answer)
	trace.Input = st.Task
	return workflow.Update{Trace: []workflow.TraceRecord{trace}}, nil
}

// handleTools asks the model for its next move in the tool sub-loop
func (s *steps) handleTools(ctx context.Context, st workflow.State) (workflow.Update, error) {
	sctx, cancel := s.synthContext(ctx)
	resp, err := s.d.Synth.Generate(sctx, prompts.Tools(st.Messages, s.tools.Specs()))
	cancel()
	if err != nil {
		return workflow.Update{}, fmt.Errorf("failed to run tool step: %w", err)
	}

	msg := llm.Message{Role: llm.RoleModel, Text: resp.Text, ToolCalls: resp.ToolCalls}
	var trace workflow.TraceRecord
	if len(resp.ToolCalls) > 0 {
		trace = workflow.NewTrace(workflow.NodeOtherTasks, workflow.TraceTool,
			fmt.Sprintf("Calling tools: %s", strings.Join(toolNames(resp.ToolCalls), ", ")))
	} else {
		trace = workflow.NewTrace(workflow.NodeOtherTasks, workflow.TraceStep, resp.Text)
		s.logger.Info("tool sub-loop answered", zap.Int("messages", len(st.Messages)+1))
	}
	trace.Input = st.Task

	return workflow.Update{Messages: []llm.Message{msg}, Trace: []workflow.TraceRecord{trace}}, nil
}

// executeTools answers every tool call of the newest message
func (s *steps) executeTools(ctx context.Context, st workflow.State) (workflow.Update, error) {
	var calls []llm.ToolCall
	if n := len(st.Messages); n > 0 {
		calls = st.Messages[n-1].ToolCalls
	}

	results := s.tools.Execute(ctx, calls)
	trace := workflow.NewTrace(workflow.NodeToolExecutor, workflow.TraceTool,
		fmt.Sprintf("Executed tools: %s", strings.Join(toolNames(calls), ", ")))

	return workflow.Update{
		Messages: []llm.Message{{Role: llm.RoleUser, ToolResults: results}},
		Trace:    []workflow.TraceRecord{trace},
	}, nil
}

func toolNames(calls []llm.ToolCall) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return names
}

// extract reads the schema, lets the model select the tables the task
// covers and orders them parents first
func (s *steps) extract(ctx context.Context, st workflow.State) (workflow.Update, error) {
	tables := s.task.Tables
	if len(tables) == 0 {
		tables = s.cfg.Database.Tables
	}

	full, err := s.d.DB.ExtractSchema(ctx, tables)
	if err != nil {
		return workflow.Update{}, fmt.Errorf("failed to extract schema: %w", err)
	}
	if len(s.cfg.Database.Exclude) > 0 {
		full.Tables = slices.DeleteFunc(full.Tables, func(t schema.Table) bool {
			return slices.Contains(s.cfg.Database.Exclude, t.Name)
		})
	}
	if len(full.Tables) == 0 {
		return workflow.Update{}, fmt.Errorf("no tables found in database")
	}
	seen := make(map[string]bool, len(full.Tables))
	for _, t := range full.Tables {
		if seen[t.Name] {
			return workflow.Update{}, fmt.Errorf("duplicate table name in schema: %s", t.Name)
		}
		seen[t.Name] = true
	}

	childMap, order, err := depgraph.Resolve(depgraph.FromSchema(full))
	if err != nil {
		return workflow.Update{}, fmt.Errorf("failed to order tables: %w", err)
	}

	selection, err := synthesize[llm.SchemaSelection](ctx, s, prompts.SelectTables(st.Task, formatter.Text(full)))
	if err != nil {
		return workflow.Update{}, fmt.Errorf("failed to select tables: %w", err)
	}

	selected := make(map[string]bool, len(selection.Tables))
	for _, sel := range selection.Tables {
		table := full.Table(sel.TableName)
		if table == nil {
			s.logger.Warn("model selected an unknown table", zap.String("table", sel.TableName))
			continue
		}
		table.IndividualPrompt = sel.IndividualPrompt
		selected[sel.TableName] = true
	}
	if len(selected) == 0 {
		return workflow.Update{}, fmt.Errorf("none of the selected tables exist in the schema")
	}

	var selectedOrder []string
	for _, name := range order {
		if selected[name] {
			selectedOrder = append(selectedOrder, name)
		}
	}

	trace := workflow.NewTrace(workflow.NodeExtract, workflow.TraceStep,
		fmt.Sprintf("Schema extracted: %d of %d tables selected (%s).",
			len(selectedOrder), len(full.Tables), strings.Join(selectedOrder, ", ")))
	trace.Input = st.Task
	trace.Output = strings.Join(selectedOrder, ", ")

	testMode := s.testMode
	return workflow.Update{
		Schema:   full,
		Order:    selectedOrder,
		ChildMap: childMap,
		TestMode: &testMode,
		Trace:    []workflow.TraceRecord{trace},
	}, nil
}

// generateEntity synthesizes and saves the resource module of one table.
// Failures are recorded as a failure trace and leave the table without an
// artifact.
func (s *steps) generateEntity(ctx context.Context, send workflow.Send) (workflow.Update, error) {
	table := send.Table
	logger := s.logger.With(zap.String("entity", table.Name))

	slice := &schema.Schema{Tables: append([]schema.Table{table}, send.Related...)}
	related := make([]string, len(send.Related))
	for i, r := range send.Related {
		related[i] = r.Name
	}
	example, _ := workspace.Template(workspace.ServiceExample)
	utils, _ := workspace.Template(workspace.UtilsFile)

	res, err := synthesize[llm.Resource](ctx, s, prompts.Resource(prompts.ResourceInput{
		Table:            table.Name,
		IndividualPrompt: table.IndividualPrompt,
		Schema:           formatter.Text(slice),
		Related:          related,
		CodeTemplate:     example,
		Utils:            utils,
	}))
	if err != nil {
		logger.Warn("resource generation failed", zap.Error(err))
		return failure(workflow.NodeGenerate, table.Name, err), nil
	}

	fileName := table.Name + ".py"
	if err := s.d.Workspace.Write(fileName, res.ResourceCode); err != nil {
		logger.Warn("failed to save resource", zap.Error(err))
		return failure(workflow.NodeGenerate, table.Name, err), nil
	}

	routes := make([]workflow.Endpoint, len(res.APIRoutes))
	for i, r := range res.APIRoutes {
		routes[i] = workflow.Endpoint{Path: r.URI, Handler: r.ResourceObject}
	}
	logger.Debug("resource generated", zap.String("file", fileName), zap.Int("routes", len(routes)))

	trace := workflow.NewTrace(workflow.NodeGenerate, workflow.TraceUnit,
		fmt.Sprintf("Generated %s for %s.", fileName, table.Name))
	trace.Input = table.IndividualPrompt
	trace.Output = fileName

	return workflow.Update{
		Artifacts: []workflow.Artifact{{
			Entity:   table.Name,
			FileName: fileName,
			Source:   res.ResourceCode,
			Routes:   routes,
		}},
		Trace: []workflow.TraceRecord{trace},
	}, nil
}

func failure(node workflow.Node, entity string, err error) workflow.Update {
	trace := workflow.NewTrace(node, workflow.TraceFailure,
		fmt.Sprintf("Failed to generate code for %s: %v", entity, err))
	trace.Input = entity
	return workflow.Update{Trace: []workflow.TraceRecord{trace}}
}
