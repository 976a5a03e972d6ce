package formatter

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/tordrt/revolve/internal/schema"
)

// TextFormatter formats schema as compact text. This is the form tables are
// given to the code-synthesis model in.
type TextFormatter struct {
	writer io.Writer
}

// NewTextFormatter creates a new text formatter
func NewTextFormatter(w io.Writer) *TextFormatter {
	return &TextFormatter{writer: w}
}

// Format writes the schema in compact text format
func (f *TextFormatter) Format(s *schema.Schema) error {
	for i, table := range s.Tables {
		if i > 0 {
			_, _ = fmt.Fprintln(f.writer) // Blank line between tables
		}
		f.FormatTable(table)
	}
	return nil
}

// FormatTable writes one table
func (f *TextFormatter) FormatTable(table schema.Table) {
	pkStr := ""
	if len(table.PrimaryKey) > 0 {
		pkStr = fmt.Sprintf(" (PK: %s)", strings.Join(table.PrimaryKey, ", "))
	}
	_, _ = fmt.Fprintf(f.writer, "TABLE %s%s\n", table.Name, pkStr)

	for _, col := range table.Columns {
		_, _ = fmt.Fprintf(f.writer, "  %s\n", formatTextColumn(col))
	}

	if len(table.Relations) > 0 {
		_, _ = fmt.Fprintln(f.writer)
		_, _ = fmt.Fprintln(f.writer, "  RELATIONS:")
		for _, rel := range table.Relations {
			_, _ = fmt.Fprintf(f.writer, "    %s → %s.%s (%s)\n", rel.SourceColumn, rel.TargetTable, rel.TargetColumn, rel.Cardinality)
		}
	}

	if len(table.Indexes) > 0 {
		_, _ = fmt.Fprintln(f.writer)
		_, _ = fmt.Fprintln(f.writer, "  INDEXES:")
		for _, idx := range table.Indexes {
			unique := ""
			if idx.IsUnique {
				unique = " UNIQUE"
			}
			_, _ = fmt.Fprintf(f.writer, "    %s (%s)%s\n", idx.Name, strings.Join(idx.Columns, ", "), unique)
		}
	}
}

func formatTextColumn(col schema.Column) string {
	parts := []string{col.Name + ":"}

	typeStr := col.Type
	if len(col.EnumValues) > 0 {
		typeStr = fmt.Sprintf("%s (%s)", col.Type, strings.Join(col.EnumValues, "|"))
	}
	parts = append(parts, typeStr)

	if col.IsPrimaryKey {
		parts = append(parts, "PK")
	}
	if col.IsUnique {
		parts = append(parts, "UNIQUE")
	}
	if !col.Nullable {
		parts = append(parts, "NOT NULL")
	}
	if col.DefaultValue != nil {
		parts = append(parts, fmt.Sprintf("DEFAULT %s", *col.DefaultValue))
	}
	if col.ForeignKey != nil {
		parts = append(parts, fmt.Sprintf("FK %s.%s", col.ForeignKey.Table, col.ForeignKey.Column))
	}

	return strings.Join(parts, " ")
}

// Text renders the named tables, or every table when none are named
func Text(s *schema.Schema, tables ...string) string {
	var buf bytes.Buffer
	f := NewTextFormatter(&buf)

	if len(tables) == 0 {
		_ = f.Format(s)
		return buf.String()
	}

	first := true
	for _, name := range tables {
		t := s.Table(name)
		if t == nil {
			continue
		}
		if !first {
			buf.WriteByte('\n')
		}
		first = false
		f.FormatTable(*t)
	}
	return buf.String()
}
