package formatter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tordrt/revolve/internal/schema"
)

// Output formats
const (
	FormatMarkdown = "markdown"
	FormatText     = "text"
)

// MultiFileFormatter writes an overview plus one file per table into a
// directory. The generated project ships these as its schema docs.
type MultiFileFormatter struct {
	OutputDir    string
	OutputFormat string
}

// NewMultiFileFormatter creates a new multi-file formatter
func NewMultiFileFormatter(outputDir, format string) *MultiFileFormatter {
	return &MultiFileFormatter{
		OutputDir:    outputDir,
		OutputFormat: format,
	}
}

// Format writes the overview and every table file. It returns the written
// file names relative to OutputDir.
func (f *MultiFileFormatter) Format(s *schema.Schema) ([]string, error) {
	if err := os.MkdirAll(f.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	overview := "_overview" + f.ext()
	if err := f.writeFile(overview, func(w io.Writer) { f.writeOverview(w, s) }); err != nil {
		return nil, fmt.Errorf("failed to write overview: %w", err)
	}
	written := []string{overview}

	for _, table := range s.Tables {
		name := table.Name + f.ext()
		if err := f.writeFile(name, func(w io.Writer) { f.writeTable(w, table, s) }); err != nil {
			return nil, fmt.Errorf("failed to write table file for %s: %w", table.Name, err)
		}
		written = append(written, name)
	}

	return written, nil
}

func (f *MultiFileFormatter) writeFile(name string, render func(io.Writer)) error {
	file, err := os.Create(filepath.Join(f.OutputDir, name))
	if err != nil {
		return err
	}
	render(file)
	return file.Close()
}

func (f *MultiFileFormatter) writeOverview(w io.Writer, s *schema.Schema) {
	sorted := slices.Clone(s.Tables)
	slices.SortFunc(sorted, func(a, b schema.Table) int {
		return strings.Compare(a.Name, b.Name)
	})

	if f.OutputFormat == FormatMarkdown {
		_, _ = fmt.Fprintf(w, "# Schema Overview\n\n")
		_, _ = fmt.Fprintf(w, "Each table has a corresponding file: `<table_name>%s`\n\n", f.ext())
		_, _ = fmt.Fprintf(w, "## Tables\n\n")
	} else {
		_, _ = fmt.Fprintf(w, "SCHEMA OVERVIEW\n")
		_, _ = fmt.Fprintf(w, "Each table has a file: <table_name>%s\n\n", f.ext())
	}

	for _, table := range sorted {
		if f.OutputFormat == FormatMarkdown {
			_, _ = fmt.Fprintf(w, "- **%s**", table.Name)
		} else {
			_, _ = fmt.Fprint(w, table.Name)
		}

		if len(table.Relations) > 0 {
			targets := make([]string, 0, len(table.Relations))
			for _, rel := range table.Relations {
				targets = append(targets, rel.TargetTable)
			}
			_, _ = fmt.Fprintf(w, " (references: %s)", strings.Join(targets, ", "))
		}
		_, _ = fmt.Fprintln(w)
	}
}

func (f *MultiFileFormatter) writeTable(w io.Writer, table schema.Table, s *schema.Schema) {
	incoming := IncomingRelations(table.Name, s)

	if f.OutputFormat != FormatMarkdown {
		NewTextFormatter(w).FormatTable(table)
		if len(incoming) > 0 {
			_, _ = fmt.Fprintln(w)
			_, _ = fmt.Fprintln(w, "  REFERENCED BY:")
			for _, rel := range incoming {
				_, _ = fmt.Fprintf(w, "    %s.%s → %s (%s)\n", rel.SourceTable, rel.SourceColumn, rel.TargetColumn, rel.Cardinality)
			}
		}
		return
	}

	md := NewMarkdownFormatter(w)
	md.FormatTable(table)

	if len(incoming) > 0 {
		_, _ = fmt.Fprintf(w, "### Referenced by\n\n")
		for _, rel := range incoming {
			_, _ = fmt.Fprintf(w, "- %s.%s → %s (%s)\n",
				rel.SourceTable, rel.SourceColumn,
				rel.TargetColumn,
				FormatCardinality(rel.Cardinality, rel.SourceTable, rel.TargetTable))
		}
		_, _ = fmt.Fprintln(w)
	}
}

// IncomingRelation represents a relationship pointing to a table
type IncomingRelation struct {
	SourceTable  string
	SourceColumn string
	TargetTable  string
	TargetColumn string
	Cardinality  string
}

// IncomingRelations finds all foreign keys pointing to the named table
func IncomingRelations(tableName string, s *schema.Schema) []IncomingRelation {
	var incoming []IncomingRelation
	for _, table := range s.Tables {
		for _, rel := range table.Relations {
			if rel.TargetTable != tableName {
				continue
			}
			incoming = append(incoming, IncomingRelation{
				SourceTable:  table.Name,
				SourceColumn: rel.SourceColumn,
				TargetTable:  rel.TargetTable,
				TargetColumn: rel.TargetColumn,
				Cardinality:  rel.Cardinality,
			})
		}
	}
	return incoming
}

func (f *MultiFileFormatter) ext() string {
	if f.OutputFormat == FormatMarkdown {
		return ".md"
	}
	return ".txt"
}
