// Package db reads table metadata from PostgreSQL, MySQL and SQLite and runs
// ad-hoc queries against them.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tordrt/revolve/internal/schema"
)

// MaxQueryRows caps the rows returned by Query
const MaxQueryRows = 200

// Kind identifies a database engine
type Kind string

const (
	Postgres Kind = "postgres"
	MySQL    Kind = "mysql"
	SQLite   Kind = "sqlite"
)

// Introspector is a connected database that can describe its schema
type Introspector interface {
	Kind() Kind
	Ping(ctx context.Context) error
	ExtractSchema(ctx context.Context, tables []string) (*schema.Schema, error)
	Query(ctx context.Context, query string) (*QueryResult, error)
	Close() error
}

// QueryResult holds the rows of an ad-hoc query
type QueryResult struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated,omitempty"`
}

// Options configures Open
type Options struct {
	// SchemaName defaults to "public" for PostgreSQL and to the DSN's
	// database for MySQL. SQLite ignores it.
	SchemaName string
}

// ParseURL detects the database type and returns the driver connection string
func ParseURL(url string) (Kind, string, error) {
	if url == "" {
		return "", "", fmt.Errorf("database URL is required")
	}

	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return Postgres, url, nil
	case strings.HasPrefix(url, "mysql://"):
		return MySQL, strings.TrimPrefix(url, "mysql://"), nil
	case strings.HasPrefix(url, "sqlite://"):
		return SQLite, strings.TrimPrefix(url, "sqlite://"), nil
	}

	return "", "", fmt.Errorf("invalid database URL scheme (must start with postgres://, mysql://, or sqlite://)")
}

// Open connects to the database named by url
func Open(ctx context.Context, url string, opts Options) (Introspector, error) {
	kind, connStr, err := ParseURL(url)
	if err != nil {
		return nil, err
	}

	switch kind {
	case Postgres:
		client, err := NewPostgresClient(ctx, connStr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		schemaName := opts.SchemaName
		if schemaName == "" {
			schemaName = "public"
		}
		return NewPostgresExtractor(client, schemaName), nil

	case MySQL:
		schemaName := opts.SchemaName
		if schemaName == "" {
			schemaName, err = ParseDatabaseName(connStr)
			if err != nil {
				return nil, fmt.Errorf("failed to determine database name: %w (please specify the schema name)", err)
			}
		}
		client, err := NewMySQLClient(ctx, connStr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
		}
		return NewMySQLExtractor(client, schemaName), nil

	default:
		client, err := NewSQLiteClient(ctx, connStr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
		}
		return NewSQLiteExtractor(client), nil
	}
}

// dialect reads one engine's catalog
type dialect interface {
	tableNames(ctx context.Context) ([]string, error)
	columns(ctx context.Context, table string) ([]schema.Column, error)
	primaryKey(ctx context.Context, table string) ([]string, error)
	relations(ctx context.Context, table string) ([]schema.Relation, error)
	indexes(ctx context.Context, table string) ([]schema.Index, error)
}

// extract reads the requested tables, or all of them when none are named
func extract(ctx context.Context, d dialect, requested []string) (*schema.Schema, error) {
	tableNames := requested
	if len(tableNames) == 0 {
		var err error
		tableNames, err = d.tableNames(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get table names: %w", err)
		}
	}

	s := &schema.Schema{}
	for _, tableName := range tableNames {
		table, err := extractTable(ctx, d, tableName)
		if err != nil {
			return nil, fmt.Errorf("failed to extract table %s: %w", tableName, err)
		}
		s.Tables = append(s.Tables, *table)
	}

	linkRelations(s)
	return s, nil
}

func extractTable(ctx context.Context, d dialect, tableName string) (*schema.Table, error) {
	table := &schema.Table{Name: tableName}
	var err error

	if table.Columns, err = d.columns(ctx, tableName); err != nil {
		return nil, fmt.Errorf("failed to extract columns: %w", err)
	}
	if table.PrimaryKey, err = d.primaryKey(ctx, tableName); err != nil {
		return nil, fmt.Errorf("failed to extract primary key: %w", err)
	}
	if table.Relations, err = d.relations(ctx, tableName); err != nil {
		return nil, fmt.Errorf("failed to extract relations: %w", err)
	}
	if table.Indexes, err = d.indexes(ctx, tableName); err != nil {
		return nil, fmt.Errorf("failed to extract indexes: %w", err)
	}

	return table, nil
}

// queryStrings collects a single string column
func queryStrings(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// querySQL runs a statement through database/sql, decoding text columns as strings
func querySQL(ctx context.Context, db *sql.DB, query string) (*QueryResult, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &QueryResult{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		if len(result.Rows) == MaxQueryRows {
			result.Truncated = true
			break
		}

		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	return result, rows.Err()
}
