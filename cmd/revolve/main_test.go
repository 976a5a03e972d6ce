package main

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tordrt/revolve/internal/progress"
	"github.com/tordrt/revolve/internal/repair"
	"github.com/tordrt/revolve/internal/store"
)

// shopDB creates a SQLite database where orders reference customers
func shopDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")
	conn, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_, err = conn.Exec(`
		CREATE TABLE customers (id INTEGER PRIMARY KEY, email TEXT NOT NULL);
		CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER NOT NULL REFERENCES customers(id));
		CREATE TABLE migrations (version TEXT PRIMARY KEY);
	`)
	require.NoError(t, err)
	return "sqlite://" + path
}

// execute runs the CLI in an empty directory and returns its stdout
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("GEMINI_API_KEY", "")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSchemaCommand(t *testing.T) {
	url := shopDB(t)

	tests := []struct {
		name     string
		args     []string
		contains []string
		excludes []string
	}{
		{
			name:     "markdown",
			args:     []string{"schema", "--db", url},
			contains: []string{"## customers", "## orders", "## migrations"},
		},
		{
			name:     "text with exclusion",
			args:     []string{"schema", "--db", url, "--format", "text", "--exclude", "migrations"},
			contains: []string{"TABLE customers", "TABLE orders"},
			excludes: []string{"migrations"},
		},
		{
			name:     "selected tables",
			args:     []string{"schema", "--db", url, "-t", "customers"},
			contains: []string{"## customers"},
			excludes: []string{"## orders"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestSchemaCommandOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "docs")
	_, err := execute(t, "schema", "--db", shopDB(t), "--output-dir", dir)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "_overview.md"))
	assert.FileExists(t, filepath.Join(dir, "orders.md"))
}

func TestSchemaCommandErrors(t *testing.T) {
	_, err := execute(t, "schema")
	assert.ErrorContains(t, err, "database.url is required")

	_, err = execute(t, "schema", "--db", shopDB(t), "-o", "a.md", "-d", "docs")
	assert.ErrorContains(t, err, "cannot use both")

	_, err = execute(t, "schema", "--db", shopDB(t), "--format", "yaml")
	assert.Error(t, err)
}

func TestOrderCommand(t *testing.T) {
	out, err := execute(t, "order", "--db", shopDB(t), "--exclude", "migrations")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t, "1. customers", lines[0])
	assert.Equal(t, "2. orders -> customers", lines[1])
	assert.Contains(t, out, "level 0: customers")
	assert.Contains(t, out, "level 1: orders")
}

func TestRunCommandWithoutAPIKey(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "runs.db")
	workspaceDir := filepath.Join(t.TempDir(), "generated")

	out, err := execute(t, "run", "--db", shopDB(t), "--store", storePath, "-w", workspaceDir, "--git=false", "CRUD for orders")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.api_key")
	assert.Contains(t, out, "[system] configuration:")
}

func TestHistoryCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	st, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, st.CreateRun(ctx, "run-1", "CRUD for orders"))
	rec := repair.NewRecord("orders", "orders.py", "code")
	rec.Status = repair.StatusSuccess
	require.NoError(t, st.SaveRecord(ctx, "run-1", 0, rec))
	require.NoError(t, st.FinishRun(ctx, "run-1", store.RunDone, ""))
	require.NoError(t, st.Close())

	out, err := execute(t, "history", "--store", path)
	require.NoError(t, err)
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "1/1")
	assert.Contains(t, out, "CRUD for orders")

	out, err = execute(t, "history", "--store", path, "run-1")
	require.NoError(t, err)
	assert.Contains(t, out, `"entity": "orders"`)

	_, err = execute(t, "history", "--store", path, "missing")
	assert.ErrorIs(t, err, store.ErrRunNotFound)
}

func TestPrintEvents(t *testing.T) {
	emit := func(events ...progress.Event) <-chan progress.Event {
		ch := make(chan progress.Event, len(events))
		for _, e := range events {
			ch <- e
		}
		close(ch)
		return ch
	}

	var out bytes.Buffer
	err := printEvents(&out, emit(
		progress.Event{Name: "extract_schema", Text: "Schema extracted.", Level: progress.LevelWorkflow, Status: progress.StatusProcessing},
		progress.Event{Name: "workflow", Text: "Workflow finished.", Level: progress.LevelSystem, Status: progress.StatusDone},
	), false)
	require.NoError(t, err)
	assert.Equal(t, "[workflow] extract_schema: Schema extracted.\n[system] workflow: Workflow finished.\n", out.String())

	out.Reset()
	err = printEvents(&out, emit(
		progress.Event{Name: "workflow", Text: "boom", Level: progress.LevelSystem, Status: progress.StatusError},
	), true)
	assert.EqualError(t, err, "workflow failed: boom")
	assert.True(t, strings.HasPrefix(out.String(), `{"name":"workflow"`))
}

func TestBoundFlagsSkipsUnsetFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("db", "", "")
	flags.Int("workers", 0, "")
	flags.String("unrelated", "", "")
	require.NoError(t, flags.Parse([]string{"--db", "sqlite://x.db", "--unrelated", "y"}))

	bound := boundFlags(flags)
	require.Len(t, bound, 1)
	assert.Equal(t, "db", bound["database.url"].Name)
}
