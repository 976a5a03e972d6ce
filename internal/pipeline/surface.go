package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tordrt/revolve/internal/formatter"
	"github.com/tordrt/revolve/internal/schema"
	"github.com/tordrt/revolve/internal/vcs"
	"github.com/tordrt/revolve/internal/workflow"
	"github.com/tordrt/revolve/internal/workspace"
)

// docsDir holds the schema documentation of a generated project
const docsDir = "schema_docs"

// assemble mounts every generated resource on the API module, copies the
// shared starter files and documents the selected tables
func (s *steps) assemble(ctx context.Context, st workflow.State) (workflow.Update, error) {
	if len(st.Artifacts) == 0 {
		trace := workflow.NewTrace(workflow.NodeAssemble, workflow.TraceFailure, "No resources were generated.")
		return workflow.Update{Trace: []workflow.TraceRecord{trace}}, nil
	}
	ws := s.d.Workspace

	var bindings []workspace.Binding
	modules := make([]string, 0, len(st.Artifacts))
	for _, a := range st.Artifacts {
		module := workspace.ModuleName(a.FileName)
		modules = append(modules, module)
		for _, r := range a.Routes {
			bindings = append(bindings, workspace.Binding{Module: module, Path: r.Path, Handler: r.Handler})
		}
	}

	apiTemplate, err := workspace.Template(workspace.APIFile)
	if err != nil {
		return workflow.Update{}, err
	}
	if err := ws.Write(workspace.APIFile, workspace.AssembleAPI(apiTemplate, bindings)); err != nil {
		return workflow.Update{}, fmt.Errorf("failed to write API module: %w", err)
	}

	schemasTemplate, err := workspace.Template(workspace.SchemasFile)
	if err != nil {
		return workflow.Update{}, err
	}
	if err := ws.Write(workspace.SchemasFile, workspace.AssembleSchemas(schemasTemplate, modules)); err != nil {
		return workflow.Update{}, fmt.Errorf("failed to write schemas module: %w", err)
	}

	if err := ws.CopyTemplates(workspace.SharedFiles...); err != nil {
		return workflow.Update{}, fmt.Errorf("failed to copy starter files: %w", err)
	}

	if err := s.writeDocs(st); err != nil {
		s.logger.Warn("failed to write schema docs", zap.Error(err))
	}

	vcs.CommitAndLog(ctx, s.commit, s.logger, "API generated.",
		fmt.Sprintf("Resources: %s", strings.Join(modules, ", ")))

	trace := workflow.NewTrace(workflow.NodeAssemble, workflow.TraceStep,
		fmt.Sprintf("API generated with %d resources and %d routes.", len(modules), len(bindings)))
	trace.Output = workspace.APIFile
	return workflow.Update{APIFile: workspace.APIFile, Trace: []workflow.TraceRecord{trace}}, nil
}

// writeDocs writes one markdown file per selected table plus an overview
func (s *steps) writeDocs(st workflow.State) error {
	dir, err := s.d.Workspace.Path(docsDir)
	if err != nil {
		return err
	}

	selected := &schema.Schema{}
	for _, name := range st.Order {
		if t := st.Schema.Table(name); t != nil {
			selected.Tables = append(selected.Tables, *t)
		}
	}

	written, err := formatter.NewMultiFileFormatter(dir, formatter.FormatMarkdown).Format(selected)
	if err != nil {
		return err
	}
	s.logger.Debug("schema docs written", zap.Int("files", len(written)))
	return nil
}
