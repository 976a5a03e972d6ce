package formatter

import (
	"fmt"
	"io"
	"strings"

	"github.com/tordrt/revolve/internal/schema"
)

// MarkdownFormatter formats schema as markdown
type MarkdownFormatter struct {
	writer io.Writer
}

// NewMarkdownFormatter creates a new markdown formatter
func NewMarkdownFormatter(w io.Writer) *MarkdownFormatter {
	return &MarkdownFormatter{writer: w}
}

// Format writes the schema in markdown format
func (f *MarkdownFormatter) Format(s *schema.Schema) error {
	_, _ = fmt.Fprintln(f.writer, "# Database Schema")
	_, _ = fmt.Fprintln(f.writer)

	for _, table := range s.Tables {
		f.FormatTable(table)
	}
	return nil
}

// FormatTable formats a single table
func (f *MarkdownFormatter) FormatTable(table schema.Table) {
	_, _ = fmt.Fprintf(f.writer, "## %s\n\n", table.Name)

	f.FormatColumns(table.Columns, table.PrimaryKey)
	f.FormatRelations(table.Name, table.Relations)
	f.formatIndexes(table.Indexes)
}

// FormatColumns writes the column list of a table
func (f *MarkdownFormatter) FormatColumns(columns []schema.Column, primaryKey []string) {
	_, _ = fmt.Fprintln(f.writer, "### Columns")
	_, _ = fmt.Fprintln(f.writer)

	for _, col := range columns {
		typeStr := col.Type
		if len(col.EnumValues) > 0 {
			typeStr = fmt.Sprintf("%s (%s)", col.Type, strings.Join(col.EnumValues, "|"))
		}

		constraintStr := formatConstraints(col, primaryKey)
		if constraintStr != "" {
			_, _ = fmt.Fprintf(f.writer, "- **%s:** %s, %s\n", col.Name, typeStr, constraintStr)
		} else {
			_, _ = fmt.Fprintf(f.writer, "- **%s:** %s\n", col.Name, typeStr)
		}
	}
	_, _ = fmt.Fprintln(f.writer)
}

// FormatRelations writes the outgoing foreign keys of a table
func (f *MarkdownFormatter) FormatRelations(tableName string, relations []schema.Relation) {
	if len(relations) == 0 {
		return
	}

	_, _ = fmt.Fprintln(f.writer, "### References")
	_, _ = fmt.Fprintln(f.writer)
	for _, rel := range relations {
		_, _ = fmt.Fprintf(f.writer, "- %s → %s.%s (%s)\n",
			rel.SourceColumn,
			rel.TargetTable,
			rel.TargetColumn,
			FormatCardinality(rel.Cardinality, tableName, rel.TargetTable))
	}
	_, _ = fmt.Fprintln(f.writer)
}

func (f *MarkdownFormatter) formatIndexes(indexes []schema.Index) {
	if len(indexes) == 0 {
		return
	}

	_, _ = fmt.Fprintln(f.writer, "### Idx")
	_, _ = fmt.Fprintln(f.writer)
	for _, idx := range indexes {
		unique := ""
		if idx.IsUnique {
			unique = ", unique"
		}
		_, _ = fmt.Fprintf(f.writer, "- %s on (%s)%s\n", idx.Name, strings.Join(idx.Columns, ", "), unique)
	}
	_, _ = fmt.Fprintln(f.writer)
}

// FormatCardinality describes a relation from source to target in words
func FormatCardinality(cardinality, source, target string) string {
	switch cardinality {
	case schema.OneToOne:
		return fmt.Sprintf("one %s to one %s", source, target)
	case schema.ManyToOne:
		return fmt.Sprintf("many %s to one %s", source, target)
	default:
		return "cardinality uncertain"
	}
}

func formatConstraints(col schema.Column, primaryKey []string) string {
	var constraints []string

	isPK := col.IsPrimaryKey
	for _, pk := range primaryKey {
		if pk == col.Name {
			isPK = true
			break
		}
	}

	if isPK {
		constraints = append(constraints, "PK")
	}
	if col.IsUnique {
		constraints = append(constraints, "UNIQUE")
	}
	if !col.Nullable {
		constraints = append(constraints, "NOT NULL")
	}
	if col.DefaultValue != nil {
		constraints = append(constraints, fmt.Sprintf("DEFAULT %s", *col.DefaultValue))
	}
	if col.CheckConstraint != nil {
		constraints = append(constraints, fmt.Sprintf("CHECK(%s)", *col.CheckConstraint))
	}

	return strings.Join(constraints, ", ")
}
