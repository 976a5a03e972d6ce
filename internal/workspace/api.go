package workspace

import (
	"fmt"
	"strings"
)

// Insertion markers in the api.py and schemas.py templates
const (
	importsMarker   = "###IMPORTS###"
	endpointsMarker = "###ENDPOINTS###"
	routesMarker    = "## Routes"
)

// Binding mounts one handler of a generated module on a path
type Binding struct {
	Module  string // python module name, e.g. "users"
	Path    string // e.g. "/users/{user_id}"
	Handler string // e.g. "UserResource()"
}

// AssembleAPI fills the api.py template with one import per handler class and
// one route per path. Duplicate imports and routes are emitted once, in
// first-seen order. The schemas endpoint is always mounted.
func AssembleAPI(tmpl string, bindings []Binding) string {
	seen := make(map[string]bool)
	var imports, endpoints []string

	for _, b := range bindings {
		class := strings.TrimSuffix(strings.TrimSpace(b.Handler), "()")
		imp := fmt.Sprintf("from %s import %s", b.Module, class)
		if !seen["import:"+imp] {
			seen["import:"+imp] = true
			imports = append(imports, imp)
		}

		route := fmt.Sprintf("app.add_route(%q, %s)", b.Path, b.Handler)
		if !seen["route:"+b.Path+"."+b.Handler] {
			seen["route:"+b.Path+"."+b.Handler] = true
			endpoints = append(endpoints, route)
		}
	}

	imports = append(imports, "from schemas import SchemasResource")
	endpoints = append(endpoints, `app.add_route("/schemas", SchemasResource())`)

	out := insertAfter(tmpl, importsMarker, imports)
	return insertAfter(out, endpointsMarker, endpoints)
}

// AssembleSchemas lists the generated modules in the schemas.py template
func AssembleSchemas(tmpl string, modules []string) string {
	seen := make(map[string]bool)
	var lines []string
	for _, m := range modules {
		if seen[m] {
			continue
		}
		seen[m] = true
		lines = append(lines, fmt.Sprintf("    %q,", m))
	}
	return insertAfter(tmpl, routesMarker, lines)
}

func insertAfter(src, marker string, lines []string) string {
	if len(lines) == 0 {
		return src
	}
	return strings.Replace(src, marker, marker+"\n"+strings.Join(lines, "\n"), 1)
}

// ModuleName strips the .py suffix from a generated file name
func ModuleName(fileName string) string {
	return strings.TrimSuffix(fileName, ".py")
}

// TestFileName is the test module paired with a resource file
func TestFileName(resourceFile string) string {
	return "test_" + resourceFile
}
