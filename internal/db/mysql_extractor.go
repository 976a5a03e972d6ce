package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tordrt/revolve/internal/schema"
)

// Catalog queries, parameterized by database name and, per table, table name
const (
	myTablesQuery = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = ? AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	// Unique means backed by a unique index on exactly this column
	myColumnsQuery = `
		SELECT
			c.column_name,
			c.column_type,
			c.data_type,
			c.is_nullable = 'YES',
			c.column_default,
			EXISTS (
				SELECT 1
				FROM information_schema.statistics s
				WHERE s.table_schema = c.table_schema
					AND s.table_name = c.table_name
					AND s.column_name = c.column_name
					AND s.non_unique = 0
					AND s.index_name <> 'PRIMARY'
					AND (
						SELECT COUNT(*)
						FROM information_schema.statistics s2
						WHERE s2.table_schema = s.table_schema
							AND s2.table_name = s.table_name
							AND s2.index_name = s.index_name
					) = 1
			)
		FROM information_schema.columns c
		WHERE c.table_schema = ? AND c.table_name = ?
		ORDER BY c.ordinal_position`

	myPrimaryKeyQuery = `
		SELECT column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = ? AND table_name = ? AND constraint_name = 'PRIMARY'
		ORDER BY ordinal_position`

	myForeignKeysQuery = `
		SELECT column_name, referenced_table_name, referenced_column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = ? AND table_name = ? AND referenced_table_name IS NOT NULL
		ORDER BY constraint_name, ordinal_position`

	myIndexesQuery = `
		SELECT
			index_name,
			non_unique = 0,
			GROUP_CONCAT(column_name ORDER BY seq_in_index)
		FROM information_schema.statistics
		WHERE table_schema = ? AND table_name = ? AND index_name <> 'PRIMARY'
		GROUP BY index_name, non_unique
		ORDER BY index_name`
)

// MySQLExtractor reads the catalog of one MySQL database
type MySQLExtractor struct {
	*MySQLClient
	schemaName string
}

// NewMySQLExtractor creates a new MySQL schema extractor
func NewMySQLExtractor(client *MySQLClient, schemaName string) *MySQLExtractor {
	return &MySQLExtractor{
		MySQLClient: client,
		schemaName:  schemaName,
	}
}

// Kind reports MySQL
func (e *MySQLExtractor) Kind() Kind { return MySQL }

// ExtractSchema extracts the requested tables, or every base table of the
// database when tables is empty
func (e *MySQLExtractor) ExtractSchema(ctx context.Context, tables []string) (*schema.Schema, error) {
	return extract(ctx, e, tables)
}

func (e *MySQLExtractor) tableNames(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, e.db, myTablesQuery, e.schemaName)
}

func (e *MySQLExtractor) primaryKey(ctx context.Context, tableName string) ([]string, error) {
	return queryStrings(ctx, e.db, myPrimaryKeyQuery, e.schemaName, tableName)
}

func (e *MySQLExtractor) columns(ctx context.Context, tableName string) ([]schema.Column, error) {
	rows, err := e.db.QueryContext(ctx, myColumnsQuery, e.schemaName, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []schema.Column
	for rows.Next() {
		var (
			col        schema.Column
			dataType   string
			defaultVal sql.NullString
		)
		if err := rows.Scan(&col.Name, &col.Type, &dataType, &col.Nullable, &defaultVal, &col.IsUnique); err != nil {
			return nil, err
		}
		if defaultVal.Valid {
			col.DefaultValue = &defaultVal.String
		}
		if dataType == "enum" {
			if col.EnumValues, err = parseEnumValues(col.Type); err != nil {
				return nil, err
			}
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

// parseEnumValues reads the labels out of a column type such as
// enum('active','inactive'). Other types yield nil.
func parseEnumValues(columnType string) ([]string, error) {
	body, ok := strings.CutPrefix(columnType, "enum(")
	if !ok {
		return nil, nil
	}
	body, ok = strings.CutSuffix(body, ")")
	if !ok {
		return nil, fmt.Errorf("invalid enum type format: %s", columnType)
	}

	var values []string
	for _, part := range strings.Split(body, ",") {
		part = strings.TrimSpace(part)
		part = strings.TrimSuffix(strings.TrimPrefix(part, "'"), "'")
		values = append(values, strings.ReplaceAll(part, "''", "'"))
	}
	return values, nil
}

func (e *MySQLExtractor) relations(ctx context.Context, tableName string) ([]schema.Relation, error) {
	rows, err := e.db.QueryContext(ctx, myForeignKeysQuery, e.schemaName, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var relations []schema.Relation
	for rows.Next() {
		var rel schema.Relation
		if err := rows.Scan(&rel.SourceColumn, &rel.TargetTable, &rel.TargetColumn); err != nil {
			return nil, err
		}
		relations = append(relations, rel)
	}
	return relations, rows.Err()
}

func (e *MySQLExtractor) indexes(ctx context.Context, tableName string) ([]schema.Index, error) {
	rows, err := e.db.QueryContext(ctx, myIndexesQuery, e.schemaName, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indexes []schema.Index
	for rows.Next() {
		var (
			idx     schema.Index
			columns string
		)
		if err := rows.Scan(&idx.Name, &idx.IsUnique, &columns); err != nil {
			return nil, err
		}
		idx.Columns = strings.Split(columns, ",")
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}
