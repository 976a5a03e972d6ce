//go:build integration

package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tordrt/revolve/internal/depgraph"
	"github.com/tordrt/revolve/internal/schema"
)

const postgresFixture = `
CREATE TYPE user_status AS ENUM ('active', 'inactive', 'banned');
CREATE TABLE users (
	id SERIAL PRIMARY KEY,
	username VARCHAR(50) NOT NULL UNIQUE,
	email VARCHAR(100) NOT NULL,
	status user_status NOT NULL DEFAULT 'active',
	created_at TIMESTAMP WITH TIME ZONE DEFAULT now()
);
CREATE TABLE products (
	id SERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	attributes JSONB
);
CREATE TABLE orders (
	id SERIAL PRIMARY KEY,
	user_id INTEGER NOT NULL REFERENCES users(id),
	total NUMERIC(10, 2) NOT NULL
);
CREATE TABLE order_items (
	id SERIAL PRIMARY KEY,
	order_id INTEGER NOT NULL REFERENCES orders(id),
	product_id INTEGER NOT NULL REFERENCES products(id),
	quantity INTEGER NOT NULL
);
CREATE INDEX idx_orders_user ON orders(user_id);
`

func startPostgres(t *testing.T) Introspector {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := Open(ctx, connStr, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	pg := db.(*PostgresExtractor)
	_, err = pg.Pool().Exec(ctx, postgresFixture)
	require.NoError(t, err)
	return db
}

func findTable(t *testing.T, s *schema.Schema, name string) *schema.Table {
	t.Helper()
	table := s.Table(name)
	require.NotNil(t, table, "table %s not found", name)
	return table
}

func columnNames(table *schema.Table) []string {
	var names []string
	for _, c := range table.Columns {
		names = append(names, c.Name)
	}
	return names
}

func TestPostgresExtraction(t *testing.T) {
	ctx := context.Background()
	db := startPostgres(t)

	s, err := db.ExtractSchema(ctx, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"users", "products", "orders", "order_items"}, s.TableNames())

	users := findTable(t, s, "users")
	assert.Equal(t, []string{"id"}, users.PrimaryKey)
	assert.Equal(t, []string{"id", "username", "email", "status", "created_at"}, columnNames(users))
	assert.Equal(t, "varchar(50)", users.Columns[1].Type)
	assert.True(t, users.Columns[1].IsUnique)
	assert.Equal(t, []string{"active", "inactive", "banned"}, users.Columns[3].EnumValues)
	assert.Equal(t, "timestamptz", users.Columns[4].Type)

	orders := findTable(t, s, "orders")
	require.Len(t, orders.Relations, 1)
	assert.Equal(t, "users", orders.Relations[0].TargetTable)
	assert.Equal(t, schema.ManyToOne, orders.Relations[0].Cardinality)
	require.NotNil(t, orders.Columns[1].ForeignKey)
	assert.Equal(t, "users", orders.Columns[1].ForeignKey.Table)

	assert.Equal(t, []string{"attributes"}, findTable(t, s, "products").UnsupportedColumns())

	_, order, err := depgraph.Resolve(depgraph.FromSchema(s))
	require.NoError(t, err)
	pos := make(map[string]int)
	for i, name := range order {
		pos[name] = i
	}
	assert.Less(t, pos["users"], pos["orders"])
	assert.Less(t, pos["orders"], pos["order_items"])
	assert.Less(t, pos["products"], pos["order_items"])
}

func TestPostgresSpecificTablesAndQuery(t *testing.T) {
	ctx := context.Background()
	db := startPostgres(t)

	s, err := db.ExtractSchema(ctx, []string{"users", "orders"})
	require.NoError(t, err)
	assert.Equal(t, []string{"users", "orders"}, s.TableNames())

	res, err := db.Query(ctx, "SELECT count(*) AS n FROM users")
	require.NoError(t, err)
	assert.Equal(t, []string{"n"}, res.Columns)
	assert.Equal(t, [][]any{{int64(0)}}, res.Rows)
}
