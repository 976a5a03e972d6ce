package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/tordrt/revolve/internal/db"
	"github.com/tordrt/revolve/internal/formatter"
	"github.com/tordrt/revolve/internal/llm"
	"github.com/tordrt/revolve/internal/schema"
	"github.com/tordrt/revolve/internal/testrunner"
)

// Files gives read access to the generated project
type Files interface {
	List(exts ...string) ([]string, error)
	Read(name string) (string, error)
}

// Database is the part of the introspector the tools use
type Database interface {
	ExtractSchema(ctx context.Context, tables []string) (*schema.Schema, error)
	Query(ctx context.Context, query string) (*db.QueryResult, error)
}

// Deps are the collaborators behind the builtin tools. Tools whose
// collaborator is nil are not registered.
type Deps struct {
	Files    Files
	Runner   testrunner.Runner
	Database Database
}

// Readable extensions for read_file
var readableExts = []string{".py", ".md", ".json", ".txt"}

// New returns a registry with every builtin tool the deps support
func New(deps Deps, logger *zap.Logger) *Registry {
	r := NewRegistry(logger)

	if deps.Files != nil {
		r.MustRegister(listFiles(deps.Files))
		r.MustRegister(readFile(deps.Files))
	}
	if deps.Runner != nil {
		r.MustRegister(runTest(deps.Runner))
	}
	if deps.Database != nil {
		r.MustRegister(runQuery(deps.Database))
		r.MustRegister(listTables(deps.Database))
		r.MustRegister(describeTable(deps.Database))
	}
	return r
}

func listFiles(files Files) Tool {
	return Tool{
		Spec: llm.ToolSpec{
			Name:        "list_files",
			Description: "List the files of the generated project",
		},
		Execute: func(_ context.Context, _ map[string]any) (string, error) {
			names, err := files.List()
			if err != nil {
				return "", err
			}
			return toJSON(names)
		},
	}
}

func readFile(files Files) Tool {
	return Tool{
		Spec: llm.ToolSpec{
			Name:        "read_file",
			Description: "Read a source, markdown or JSON file of the generated project",
			Params: []llm.Param{
				{Name: "file_name", Type: "string", Description: "File name relative to the project root", Required: true},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (string, error) {
			name, err := StringArg(args, "file_name")
			if err != nil {
				return "", err
			}
			if !hasReadableExt(name) {
				return "", fmt.Errorf("cannot read %s: only %s files are readable", name, strings.Join(readableExts, ", "))
			}
			return files.Read(name)
		},
	}
}

func runTest(runner testrunner.Runner) Tool {
	return Tool{
		Spec: llm.ToolSpec{
			Name:        "run_test",
			Description: "Run one generated test module and return its report",
			Params: []llm.Param{
				{Name: "file_name", Type: "string", Description: "Test file name, e.g. test_users.py", Required: true},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			name, err := StringArg(args, "file_name")
			if err != nil {
				return "", err
			}
			base := filepath.Base(name)
			if base != name || !strings.HasPrefix(base, "test_") || filepath.Ext(base) != ".py" {
				return "", fmt.Errorf("%s is not a test module", name)
			}
			return toJSON(runner.Run(ctx, name))
		},
	}
}

func runQuery(database Database) Tool {
	return Tool{
		Spec: llm.ToolSpec{
			Name:        "run_query",
			Description: fmt.Sprintf("Run a SQL query on the source database. At most %d rows are returned.", db.MaxQueryRows),
			Params: []llm.Param{
				{Name: "query", Type: "string", Description: "SQL statement", Required: true},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			query, err := StringArg(args, "query")
			if err != nil {
				return "", err
			}
			res, err := database.Query(ctx, query)
			if err != nil {
				return "", fmt.Errorf("failed to run query: %w", err)
			}
			return toJSON(res)
		},
	}
}

func listTables(database Database) Tool {
	return Tool{
		Spec: llm.ToolSpec{
			Name:        "list_tables",
			Description: "List the tables of the source database",
		},
		Execute: func(ctx context.Context, _ map[string]any) (string, error) {
			s, err := database.ExtractSchema(ctx, nil)
			if err != nil {
				return "", fmt.Errorf("failed to extract schema: %w", err)
			}
			return toJSON(s.TableNames())
		},
	}
}

func describeTable(database Database) Tool {
	return Tool{
		Spec: llm.ToolSpec{
			Name:        "describe_table",
			Description: "Describe the columns, keys and indexes of one table",
			Params: []llm.Param{
				{Name: "table_name", Type: "string", Description: "Table name", Required: true},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			table, err := StringArg(args, "table_name")
			if err != nil {
				return "", err
			}
			s, err := database.ExtractSchema(ctx, []string{table})
			if err != nil {
				return "", fmt.Errorf("failed to extract schema: %w", err)
			}
			if s.Table(table) == nil {
				return "", fmt.Errorf("table %s not found", table)
			}
			return formatter.Text(s, table), nil
		},
	}
}

func hasReadableExt(name string) bool {
	ext := filepath.Ext(name)
	for _, e := range readableExts {
		if ext == e {
			return true
		}
	}
	return false
}

func toJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool output: %w", err)
	}
	return string(data), nil
}
