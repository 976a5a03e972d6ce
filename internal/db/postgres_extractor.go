package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/tordrt/revolve/internal/schema"
)

// Catalog queries. Every one takes the schema name as $1 and, where it is
// per table, the table name as $2.
const (
	pgTablesQuery = `
		SELECT table_name::text
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	// A column counts as unique only through a single-column UNIQUE
	// constraint; composite constraints do not make each member unique.
	pgColumnsQuery = `
		SELECT
			c.column_name::text,
			c.data_type::text,
			c.is_nullable = 'YES',
			c.column_default::text,
			c.udt_name::text,
			c.character_maximum_length::int,
			EXISTS (
				SELECT 1
				FROM pg_constraint u
				JOIN pg_class t ON t.oid = u.conrelid
				JOIN pg_namespace n ON n.oid = t.relnamespace
				JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = u.conkey[1]
				WHERE u.contype = 'u'
					AND cardinality(u.conkey) = 1
					AND n.nspname = $1
					AND t.relname = $2
					AND a.attname = c.column_name
			)
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`

	pgEnumLabelsQuery = `
		SELECT t.typname::text, e.enumlabel::text
		FROM pg_type t
		JOIN pg_enum e ON t.oid = e.enumtypid
		JOIN pg_namespace n ON t.typnamespace = n.oid
		WHERE n.nspname = $1 AND t.typname = ANY($2)
		ORDER BY t.typname, e.enumsortorder`

	pgPrimaryKeyQuery = `
		SELECT a.attname::text
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		WHERE ix.indisprimary AND n.nspname = $1 AND t.relname = $2
		ORDER BY array_position(ix.indkey, a.attnum)`

	// conkey and confkey are parallel arrays, so composite keys pair up
	// column by column instead of cross joining.
	pgForeignKeysQuery = `
		SELECT a.attname::text, ft.relname::text, fa.attname::text
		FROM pg_constraint c
		JOIN pg_class t ON t.oid = c.conrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_class ft ON ft.oid = c.confrelid
		CROSS JOIN LATERAL unnest(c.conkey, c.confkey) WITH ORDINALITY AS k(attnum, fattnum, ord)
		JOIN pg_attribute a ON a.attrelid = c.conrelid AND a.attnum = k.attnum
		JOIN pg_attribute fa ON fa.attrelid = c.confrelid AND fa.attnum = k.fattnum
		WHERE c.contype = 'f' AND n.nspname = $1 AND t.relname = $2
		ORDER BY c.conname, k.ord`

	pgIndexesQuery = `
		SELECT
			i.relname::text,
			ix.indisunique,
			array_agg(a.attname::text ORDER BY array_position(ix.indkey, a.attnum))
		FROM pg_class t
		JOIN pg_index ix ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE t.relkind = 'r'
			AND n.nspname = $1
			AND t.relname = $2
			AND NOT ix.indisprimary
		GROUP BY i.relname, ix.indisunique
		ORDER BY i.relname`
)

// PostgresExtractor reads the catalog of one PostgreSQL schema
type PostgresExtractor struct {
	*PostgresClient
	schema string
}

// NewPostgresExtractor creates a new schema extractor for one PostgreSQL schema
func NewPostgresExtractor(client *PostgresClient, schemaName string) *PostgresExtractor {
	return &PostgresExtractor{
		PostgresClient: client,
		schema:         schemaName,
	}
}

// Kind reports Postgres
func (e *PostgresExtractor) Kind() Kind { return Postgres }

// ExtractSchema extracts the requested tables, or every base table of the
// schema when tables is empty
func (e *PostgresExtractor) ExtractSchema(ctx context.Context, tables []string) (*schema.Schema, error) {
	return extract(ctx, e, tables)
}

func (e *PostgresExtractor) tableNames(ctx context.Context) ([]string, error) {
	return e.textColumn(ctx, pgTablesQuery, e.schema)
}

func (e *PostgresExtractor) primaryKey(ctx context.Context, tableName string) ([]string, error) {
	return e.textColumn(ctx, pgPrimaryKeyQuery, e.schema, tableName)
}

// textColumn collects a single text column
func (e *PostgresExtractor) textColumn(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := e.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// pgColumn is one row of pgColumnsQuery
type pgColumn struct {
	Name      string
	DataType  string
	Nullable  bool
	Default   *string
	UdtName   string
	MaxLength *int32
	Unique    bool
}

func (e *PostgresExtractor) columns(ctx context.Context, tableName string) ([]schema.Column, error) {
	rows, err := e.pool.Query(ctx, pgColumnsQuery, e.schema, tableName)
	if err != nil {
		return nil, err
	}
	raw, err := pgx.CollectRows(rows, pgx.RowToStructByPos[pgColumn])
	if err != nil {
		return nil, err
	}

	columns := make([]schema.Column, 0, len(raw))
	var userTypes []string
	for _, r := range raw {
		columns = append(columns, schema.Column{
			Name:         r.Name,
			Type:         normalizePostgresType(r.DataType, r.UdtName, r.MaxLength),
			Nullable:     r.Nullable,
			DefaultValue: r.Default,
			IsUnique:     r.Unique,
		})
		if r.DataType == "USER-DEFINED" {
			userTypes = append(userTypes, r.UdtName)
		}
	}
	if len(userTypes) == 0 {
		return columns, nil
	}

	// User-defined types that turn out to be enums get their labels
	labels, err := e.enumLabels(ctx, userTypes)
	if err != nil {
		return nil, err
	}
	for i := range columns {
		columns[i].EnumValues = labels[columns[i].Type]
	}
	return columns, nil
}

func (e *PostgresExtractor) enumLabels(ctx context.Context, typeNames []string) (map[string][]string, error) {
	rows, err := e.pool.Query(ctx, pgEnumLabelsQuery, e.schema, typeNames)
	if err != nil {
		return nil, err
	}

	labels := make(map[string][]string)
	var typName, label string
	_, err = pgx.ForEachRow(rows, []any{&typName, &label}, func() error {
		labels[typName] = append(labels[typName], label)
		return nil
	})
	return labels, err
}

func (e *PostgresExtractor) relations(ctx context.Context, tableName string) ([]schema.Relation, error) {
	rows, err := e.pool.Query(ctx, pgForeignKeysQuery, e.schema, tableName)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (schema.Relation, error) {
		var rel schema.Relation
		err := row.Scan(&rel.SourceColumn, &rel.TargetTable, &rel.TargetColumn)
		return rel, err
	})
}

func (e *PostgresExtractor) indexes(ctx context.Context, tableName string) ([]schema.Index, error) {
	rows, err := e.pool.Query(ctx, pgIndexesQuery, e.schema, tableName)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (schema.Index, error) {
		var idx schema.Index
		err := row.Scan(&idx.Name, &idx.IsUnique, &idx.Columns)
		return idx, err
	})
}

// normalizePostgresType shortens the verbose information_schema type names
// to the spelling used in DDL
func normalizePostgresType(dataType, udtName string, maxLength *int32) string {
	withLength := func(name string) string {
		if maxLength == nil {
			return name
		}
		return fmt.Sprintf("%s(%d)", name, *maxLength)
	}

	switch dataType {
	case "timestamp with time zone":
		return "timestamptz"
	case "timestamp without time zone":
		return "timestamp"
	case "time with time zone":
		return "timetz"
	case "time without time zone":
		return "time"
	case "character varying":
		return withLength("varchar")
	case "character":
		return withLength("char")
	case "ARRAY":
		// Array element types carry a leading underscore: _text, _int4
		if elem, ok := strings.CutPrefix(udtName, "_"); ok {
			return internalTypeName(elem) + "[]"
		}
		return "array"
	case "USER-DEFINED":
		return udtName
	}
	return dataType
}

var internalTypeNames = map[string]string{
	"int2":   "smallint",
	"int4":   "integer",
	"int8":   "bigint",
	"float4": "real",
	"float8": "double precision",
	"bool":   "boolean",
}

func internalTypeName(name string) string {
	if readable, ok := internalTypeNames[name]; ok {
		return readable
	}
	return name
}
