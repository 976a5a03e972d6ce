package schema

import "strings"

// unsupportedTypes lists column types the generated test suites cannot
// round-trip through JSON fixtures.
var unsupportedTypes = map[string]bool{
	"json":      true,
	"jsonb":     true,
	"xml":       true,
	"bytea":     true,
	"blob":      true,
	"tsvector":  true,
	"tsquery":   true,
	"geometry":  true,
	"geography": true,
	"point":     true,
	"polygon":   true,
	"line":      true,
	"circle":    true,
	"box":       true,
	"path":      true,
	"lseg":      true,
	"cidr":      true,
	"inet":      true,
	"macaddr":   true,
	"hstore":    true,
	"array":     true,
}

// UnsupportedColumns returns the names of columns whose types are not
// supported by test generation, in column order
func (t *Table) UnsupportedColumns() []string {
	var names []string
	for _, col := range t.Columns {
		if IsUnsupportedType(col.Type) {
			names = append(names, col.Name)
		}
	}
	return names
}

// IsUnsupportedType reports whether a declared column type is excluded from test generation
func IsUnsupportedType(columnType string) bool {
	t := strings.ToLower(strings.TrimSpace(columnType))
	if strings.HasSuffix(t, "[]") {
		return true
	}
	// Strip length/precision modifiers, e.g. "geometry(Point,4326)"
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	return unsupportedTypes[t]
}
