package depgraph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tordrt/revolve/internal/schema"
)

func link(table string) Link {
	return Link{LinksToTable: table, RelType: schema.ManyToOne}
}

func TestResolveOrdersCustomers(t *testing.T) {
	tests := []struct {
		name      string
		edges     Edges
		wantChild ChildMap
		wantOrder []string
	}{
		{
			name: "referenced table without links is dropped",
			edges: Edges{
				"orders":    {"customer_id": link("customers")},
				"customers": {},
			},
			wantChild: ChildMap{"orders": {"customers"}},
			wantOrder: []string{"customers", "orders"},
		},
		{
			name: "referenced table with its own link is kept",
			edges: Edges{
				"orders":    {"customer_id": link("customers")},
				"customers": {"referrer_id": link("users")},
				"users":     {},
			},
			wantChild: ChildMap{
				"orders":    {"customers"},
				"customers": {"users"},
			},
			wantOrder: []string{"users", "customers", "orders"},
		},
		{
			name: "unreferenced table without links stays",
			edges: Edges{
				"settings": {},
				"orders":   {"customer_id": link("customers")},
			},
			wantChild: ChildMap{
				"settings": {},
				"orders":   {"customers"},
			},
			wantOrder: []string{"customers", "settings", "orders"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			childMap, order, err := Resolve(tt.edges)
			require.NoError(t, err)
			assert.Equal(t, tt.wantChild, childMap)
			assert.Equal(t, tt.wantOrder, order)
		})
	}
}

func TestResolveCycle(t *testing.T) {
	edges := Edges{
		"a": {"b_id": link("b")},
		"b": {"a_id": link("a")},
		"c": {},
	}

	childMap, order, err := Resolve(edges)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCycleDetected))
	assert.Nil(t, order)
	assert.Nil(t, childMap)

	var cycleErr *CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.Equal(t, []string{"a", "b"}, cycleErr.Tables)
}

func TestResolveSelfReference(t *testing.T) {
	edges := Edges{
		"employees":   {"manager_id": link("employees"), "department_id": link("departments")},
		"departments": {},
	}

	childMap, order, err := Resolve(edges)
	require.NoError(t, err)
	assert.Equal(t, []string{"departments", "employees"}, order)
	assert.Equal(t, ChildMap{"employees": {"departments", "employees"}}, childMap)
}

func largeEdges() Edges {
	return Edges{
		"users":       {},
		"alerts":      {"device_id": link("devices")},
		"orders":      {"payment_id": {LinksToTable: "payments", RelType: schema.OneToOne}, "customer_id": link("customers")},
		"courses":     {},
		"devices":     {"assigned_to": link("employees")},
		"regions":     {},
		"feedback":    {"order_id": link("orders"), "customer_id": link("customers")},
		"patients":    {},
		"payments":    {"transaction_id": link("transactions")},
		"products":    {"category_id": link("categories"), "supplier_id": link("suppliers")},
		"settings":    {},
		"students":    {},
		"customers":   {"referrer_id": link("users")},
		"employees":   {"department_id": link("departments")},
		"inventory":   {"product_id": {LinksToTable: "products", RelType: schema.OneToOne}, "warehouse_id": link("warehouses")},
		"suppliers":   {"region_id": link("regions")},
		"categories":  {},
		"warehouses":  {"region_id": link("regions")},
		"audit_trail": {"user_id": link("users")},
		"departments": {},
		"device_logs": {"user_id": link("users"), "device_id": link("devices")},
		"enrollments": {"course_id": link("courses"), "student_id": link("students")},
		"order_items": {"order_id": link("orders"), "product_id": link("products")},
		"appointments": {
			"doctor_id":  link("employees"),
			"patient_id": link("patients"),
		},
		"transactions":       {"processor_id": link("payment_processors")},
		"payment_processors": {},
	}
}

func TestResolveLargeSchema(t *testing.T) {
	edges := largeEdges()

	childMap, order, err := Resolve(edges)
	require.NoError(t, err)

	assert.Len(t, childMap, 18)
	assert.Equal(t, "devices", childMap["alerts"][0])
	assert.Len(t, order, 26)

	// Every link target comes before the table that links to it
	position := make(map[string]int, len(order))
	for i, table := range order {
		position[table] = i
	}
	for table, cols := range edges {
		for col, l := range cols {
			assert.Less(t, position[l.LinksToTable], position[table], "%s.%s -> %s", table, col, l.LinksToTable)
		}
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	edges := largeEdges()

	firstChild, firstOrder, err := Resolve(edges)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		childMap, order, err := Resolve(edges)
		require.NoError(t, err)
		assert.Equal(t, firstChild, childMap)
		assert.Equal(t, firstOrder, order)
	}
}

func TestResolveIncludesLinkTargetsOnlyListedAsTargets(t *testing.T) {
	edges := Edges{"orders": {"customer_id": link("customers")}}

	_, order, err := Resolve(edges)
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "orders"}, order)
}

func TestLevels(t *testing.T) {
	edges := Edges{
		"order_items": {"order_id": link("orders"), "product_id": link("products")},
		"orders":      {"customer_id": link("customers")},
		"products":    {},
		"customers":   {},
	}

	levels, err := Levels(edges)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"customers", "products"},
		{"orders"},
		{"order_items"},
	}, levels)

	_, err = Levels(Edges{"a": {"x": link("a2")}, "a2": {"y": link("a")}})
	assert.ErrorIs(t, err, ErrCycleDetected)
}

func TestFromSchema(t *testing.T) {
	s := &schema.Schema{Tables: []schema.Table{
		{
			Name: "orders",
			Columns: []schema.Column{
				{Name: "id"},
				{Name: "customer_id"},
				{Name: "coupon_id", ForeignKey: &schema.ForeignKey{Table: "coupons", Column: "id"}},
			},
			Relations: []schema.Relation{
				{SourceColumn: "customer_id", TargetTable: "customers", TargetColumn: "id", Cardinality: schema.ManyToOne},
			},
		},
		{Name: "customers"},
	}}

	edges := FromSchema(s)
	assert.Equal(t, Edges{
		"orders": {
			"customer_id": {LinksToTable: "customers", RelType: schema.ManyToOne},
			"coupon_id":   {LinksToTable: "coupons", RelType: schema.Uncertain},
		},
		"customers": {},
	}, edges)
}
