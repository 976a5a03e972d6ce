package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tordrt/revolve/internal/db"
	"github.com/tordrt/revolve/internal/formatter"
	"github.com/tordrt/revolve/internal/llm"
	"github.com/tordrt/revolve/internal/prompts"
	"github.com/tordrt/revolve/internal/repair"
	"github.com/tordrt/revolve/internal/schema"
	"github.com/tordrt/revolve/internal/vcs"
	"github.com/tordrt/revolve/internal/workflow"
	"github.com/tordrt/revolve/internal/workspace"
)

// Files written next to the generated service
const (
	envFile    = ".env"
	readmeFile = "README.md"
)

// recordBook is the shared view of a run's records while repair loops run
type recordBook struct {
	mu       sync.Mutex
	records  []repair.Record
	position map[string]int
}

func newRecordBook(records []repair.Record) *recordBook {
	b := &recordBook{
		records:  append([]repair.Record(nil), records...),
		position: make(map[string]int, len(records)),
	}
	for i, rec := range records {
		b.position[rec.Entity] = i
	}
	return b
}

// put stores rec and returns its position. The caller holds mu.
func (b *recordBook) put(rec repair.Record) int {
	i := b.position[rec.Entity]
	b.records[i] = rec
	return i
}

func (b *recordBook) snapshot() []repair.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]repair.Record(nil), b.records...)
}

// testAndRepair runs the repair loop for every record. Entities run
// concurrently up to workflow.repair_workers; each entity's loop is
// sequential.
func (s *steps) testAndRepair(ctx context.Context, st workflow.State) (workflow.Update, error) {
	book := newRecordBook(st.Records)
	examples, err := loadExamples()
	if err != nil {
		return workflow.Update{}, err
	}

	loop := &repair.Loop{
		Synth:         s.d.Synth,
		Runner:        s.d.Runner,
		Files:         s.d.Workspace,
		Committer:     s.commit,
		Logger:        s.logger,
		Examples:      examples,
		MaxIterations: s.cfg.Test.MaxIterations,
		Attempts:      s.cfg.LLM.MaxAttempts,
		SynthTimeout:  s.cfg.LLM.Timeout,
		TestTimeout:   s.cfg.Test.Timeout,
		OnEntry: func(rec repair.Record, _ repair.HistoryEntry) {
			s.persist(ctx, st.RunID, book, rec)
		},
	}

	var eg errgroup.Group
	eg.SetLimit(max(s.cfg.Workflow.RepairWorkers, 1))
	for _, rec := range book.snapshot() {
		eg.Go(func() error {
			table := st.Schema.Table(rec.Entity)
			switch {
			case !st.TestMode:
				rec = repair.Skip(rec, "run is not in test mode")
			case table == nil:
				rec = repair.Skip(rec, "entity is not in the schema")
			case len(table.UnsupportedColumns()) > 0:
				rec = repair.Skip(rec, fmt.Sprintf("unsupported column types: %s",
					strings.Join(table.UnsupportedColumns(), ", ")))
			default:
				rec = loop.Run(ctx, rec, entityFor(*table, st))
			}
			s.persist(ctx, st.RunID, book, rec)
			return nil
		})
	}
	_ = eg.Wait()

	records := book.snapshot()
	trace := workflow.NewTrace(workflow.NodeTestAndRepair, workflow.TraceStep, describeRecords(records))
	trace.Output = fmt.Sprintf("%d records", len(records))
	return workflow.Update{
		Records:   records,
		Artifacts: revisedArtifacts(st, records),
		Trace:     []workflow.TraceRecord{trace},
	}, nil
}

// revisedArtifacts returns the artifacts whose resource a revision rewrote
func revisedArtifacts(st workflow.State, records []repair.Record) []workflow.Artifact {
	var revised []workflow.Artifact
	for _, rec := range records {
		a, ok := st.Artifact(rec.Entity)
		if !ok || a.Source == rec.ResourceSource {
			continue
		}
		a.Source = rec.ResourceSource
		revised = append(revised, a)
	}
	return revised
}

// persist saves one record to the run store and rewrites the history file.
// Both happen under the book lock so the newest snapshot is written last.
func (s *steps) persist(ctx context.Context, runID string, book *recordBook, rec repair.Record) {
	book.mu.Lock()
	defer book.mu.Unlock()
	position := book.put(rec)

	if s.d.Store != nil {
		if err := s.d.Store.SaveRecord(ctx, runID, position, rec); err != nil {
			s.logger.Warn("failed to save record", zap.String("entity", rec.Entity), zap.Error(err))
		}
	}

	data, err := formatter.TestHistoryJSON(book.records)
	if err == nil {
		err = s.d.Workspace.Write(formatter.TestHistoryFile, string(data))
	}
	if err != nil {
		s.logger.Warn("failed to write test history", zap.Error(err))
	}
}

func loadExamples() (repair.Examples, error) {
	var ex repair.Examples
	for name, dst := range map[string]*string{
		workspace.TestExample:    &ex.Test,
		workspace.ServiceExample: &ex.Resource,
		workspace.UtilsFile:      &ex.Utils,
	} {
		content, err := workspace.Template(name)
		if err != nil {
			return repair.Examples{}, err
		}
		*dst = content
	}
	return ex, nil
}

// entityFor renders the table and the tables it references for prompts
func entityFor(table schema.Table, st workflow.State) repair.Entity {
	names := []string{table.Name}
	for _, parent := range st.ChildMap[table.Name] {
		if parent != table.Name {
			names = append(names, parent)
		}
	}
	return repair.Entity{
		Table:            table.Name,
		IndividualPrompt: table.IndividualPrompt,
		Schema:           formatter.Text(st.Schema, names...),
	}
}

func describeRecords(records []repair.Record) string {
	counts := make(map[repair.Status]int)
	for _, rec := range records {
		counts[rec.Status]++
	}
	return fmt.Sprintf("Tests finished: %d succeeded, %d failed, %d skipped.",
		counts[repair.StatusSuccess], counts[repair.StatusFailed], counts[repair.StatusSkipped])
}

// report writes the test report, the service environment and a README
func (s *steps) report(ctx context.Context, st workflow.State) (workflow.Update, error) {
	ws := s.d.Workspace

	var b strings.Builder
	formatter.WriteTestReport(&b, st.Task, st.Records)
	if err := ws.Write(formatter.TestReportFile, b.String()); err != nil {
		return workflow.Update{}, fmt.Errorf("failed to write test report: %w", err)
	}
	history, err := formatter.TestHistoryJSON(st.Records)
	if err != nil {
		return workflow.Update{}, err
	}
	if err := ws.Write(formatter.TestHistoryFile, string(history)); err != nil {
		return workflow.Update{}, fmt.Errorf("failed to write test history: %w", err)
	}
	if s.d.Store != nil {
		if err := s.d.Store.SaveRecords(ctx, st.RunID, st.Records); err != nil {
			s.logger.Warn("failed to save records", zap.Error(err))
		}
	}
	if err := s.writeFineTuneData(st.Records); err != nil {
		s.logger.Warn("failed to write fine-tuning data", zap.Error(err))
	}
	vcs.CommitAndLog(ctx, s.commit, s.logger, "Test report created.", describeRecords(st.Records))

	if err := s.writeEnv(st.TestMode); err != nil {
		s.logger.Warn("failed to write service environment", zap.Error(err))
	}

	description := "Test report created and README file generated."
	readmeWritten := true
	if err := s.writeReadme(ctx, st); err != nil {
		s.logger.Warn("README generation failed", zap.Error(err))
		description = "Test report created. README generation failed."
		readmeWritten = false
	} else {
		vcs.CommitAndLog(ctx, s.commit, s.logger, "README file created.", "")
	}

	trace := workflow.NewTrace(workflow.NodeReport, workflow.TraceStep, description)
	trace.Output = formatter.TestReportFile
	return workflow.Update{ReadmeWritten: readmeWritten, Trace: []workflow.TraceRecord{trace}}, nil
}

// writeFineTuneData exports the prompts behind passing suites, if any
func (s *steps) writeFineTuneData(records []repair.Record) error {
	samples := formatter.FineTuneSamples(records)
	if len(samples) == 0 {
		return nil
	}
	data, err := formatter.FineTuneJSON(samples)
	if err != nil {
		return err
	}
	return s.d.Workspace.Write(formatter.FineTuneFile, string(data))
}

func (s *steps) writeEnv(testMode bool) error {
	vars, err := db.ServiceEnv(s.cfg.Database.URL, testMode)
	if err != nil {
		return err
	}
	return s.d.Workspace.Write(envFile, strings.Join(db.EnvStrings(vars), "\n")+"\n")
}

func (s *steps) writeReadme(ctx context.Context, st workflow.State) error {
	apiSource, err := s.d.Workspace.Read(workspace.APIFile)
	if err != nil {
		return err
	}
	readme, err := synthesize[llm.Readme](ctx, s, prompts.Readme(apiSource, st.Order))
	if err != nil {
		return err
	}
	return s.d.Workspace.Write(readmeFile, readme.MarkdownContent)
}
