package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/tordrt/revolve/internal/schema"
)

// SQLiteExtractor handles schema extraction from SQLite
type SQLiteExtractor struct {
	*SQLiteClient
}

// NewSQLiteExtractor creates a new SQLite schema extractor
func NewSQLiteExtractor(client *SQLiteClient) *SQLiteExtractor {
	return &SQLiteExtractor{SQLiteClient: client}
}

// Kind reports SQLite
func (e *SQLiteExtractor) Kind() Kind { return SQLite }

// ExtractSchema extracts the complete schema for specified tables
// If tables is empty, extracts all tables in the database
func (e *SQLiteExtractor) ExtractSchema(ctx context.Context, tables []string) (*schema.Schema, error) {
	return extract(ctx, e, tables)
}

func (e *SQLiteExtractor) tableNames(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, e.db,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
}

func (e *SQLiteExtractor) columns(ctx context.Context, tableName string) ([]schema.Column, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []schema.Column
	for rows.Next() {
		var name, colType string
		var notNull, pk int
		var defaultValue sql.NullString

		if err := rows.Scan(&name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return nil, err
		}

		col := schema.Column{
			Name:     name,
			Type:     colType,
			Nullable: notNull == 0,
		}
		if defaultValue.Valid {
			col.DefaultValue = &defaultValue.String
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Single-column unique indexes, including those backing UNIQUE constraints
	indexes, err := e.indexList(ctx, tableName)
	if err != nil {
		return nil, err
	}
	for _, idx := range indexes {
		if !idx.unique || idx.origin == "pk" || len(idx.columns) != 1 {
			continue
		}
		for i := range columns {
			if columns[i].Name == idx.columns[0] {
				columns[i].IsUnique = true
			}
		}
	}

	return columns, nil
}

func (e *SQLiteExtractor) primaryKey(ctx context.Context, tableName string) ([]string, error) {
	return queryStrings(ctx, e.db,
		`SELECT name FROM pragma_table_info(?) WHERE pk > 0 ORDER BY pk`, tableName)
}

func (e *SQLiteExtractor) relations(ctx context.Context, tableName string) ([]schema.Relation, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT "table", "from", "to" FROM pragma_foreign_key_list(?) ORDER BY id, seq`, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var relations []schema.Relation
	for rows.Next() {
		var targetTable, fromCol string
		var toCol sql.NullString

		if err := rows.Scan(&targetTable, &fromCol, &toCol); err != nil {
			return nil, err
		}

		// A NULL target column means the parent's primary key; linkRelations fills it in
		relations = append(relations, schema.Relation{
			SourceColumn: fromCol,
			TargetTable:  targetTable,
			TargetColumn: toCol.String,
		})
	}

	return relations, rows.Err()
}

func (e *SQLiteExtractor) indexes(ctx context.Context, tableName string) ([]schema.Index, error) {
	list, err := e.indexList(ctx, tableName)
	if err != nil {
		return nil, err
	}

	var indexes []schema.Index
	for _, idx := range list {
		// Skip auto-generated primary key and constraint indexes
		if strings.HasPrefix(idx.name, "sqlite_autoindex") || len(idx.columns) == 0 {
			continue
		}
		indexes = append(indexes, schema.Index{
			Name:     idx.name,
			IsUnique: idx.unique,
			Columns:  idx.columns,
		})
	}
	return indexes, nil
}

type sqliteIndex struct {
	name    string
	unique  bool
	origin  string
	columns []string
}

// indexList reads every index on a table with its columns
func (e *SQLiteExtractor) indexList(ctx context.Context, tableName string) ([]sqliteIndex, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT name, "unique", origin FROM pragma_index_list(?) ORDER BY name`, tableName)
	if err != nil {
		return nil, err
	}

	var list []sqliteIndex
	for rows.Next() {
		var idx sqliteIndex
		var unique int
		if err := rows.Scan(&idx.name, &unique, &idx.origin); err != nil {
			rows.Close()
			return nil, err
		}
		idx.unique = unique == 1
		list = append(list, idx)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range list {
		cols, err := e.indexColumns(ctx, list[i].name)
		if err != nil {
			return nil, err
		}
		list[i].columns = cols
	}
	return list, nil
}

func (e *SQLiteExtractor) indexColumns(ctx context.Context, indexName string) ([]string, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT name FROM pragma_index_info(?) ORDER BY seqno`, indexName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if name.Valid {
			columns = append(columns, name.String)
		}
	}
	return columns, rows.Err()
}
