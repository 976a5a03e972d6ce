package db

import (
	"slices"

	"github.com/tordrt/revolve/internal/schema"
)

// linkRelations marks primary-key columns, attaches foreign keys to their
// columns and classifies every relation. A relation is one-to-one when both
// ends are unique, many-to-one when only the target is, and uncertain when
// the target is not unique or was not extracted.
func linkRelations(s *schema.Schema) {
	for ti := range s.Tables {
		table := &s.Tables[ti]

		for ci := range table.Columns {
			col := &table.Columns[ci]
			col.IsPrimaryKey = slices.Contains(table.PrimaryKey, col.Name)
		}

		for ri := range table.Relations {
			rel := &table.Relations[ri]

			fromUnique := isUniqueColumn(table, rel.SourceColumn)
			toUnique := false
			if target := s.Table(rel.TargetTable); target != nil {
				if rel.TargetColumn == "" && len(target.PrimaryKey) == 1 {
					rel.TargetColumn = target.PrimaryKey[0]
				}
				toUnique = isUniqueColumn(target, rel.TargetColumn)
			}

			switch {
			case fromUnique && toUnique:
				rel.Cardinality = schema.OneToOne
			case toUnique:
				rel.Cardinality = schema.ManyToOne
			default:
				rel.Cardinality = schema.Uncertain
			}

			for ci := range table.Columns {
				if table.Columns[ci].Name == rel.SourceColumn {
					table.Columns[ci].ForeignKey = &schema.ForeignKey{
						Table:  rel.TargetTable,
						Column: rel.TargetColumn,
					}
				}
			}
		}
	}
}

// isUniqueColumn reports whether a column alone identifies a row
func isUniqueColumn(t *schema.Table, column string) bool {
	if len(t.PrimaryKey) == 1 && t.PrimaryKey[0] == column {
		return true
	}
	for _, col := range t.Columns {
		if col.Name == column && col.IsUnique {
			return true
		}
	}
	for _, idx := range t.Indexes {
		if idx.IsUnique && len(idx.Columns) == 1 && idx.Columns[0] == column {
			return true
		}
	}
	return false
}
