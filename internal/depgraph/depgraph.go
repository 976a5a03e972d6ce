// Package depgraph orders tables by their foreign-key dependencies.
//
// Resolve takes the per-column link map produced from an introspected schema
// and returns two views of it: a child map (table -> tables it links to) used
// as prompt context, and a topological order in which every referenced table
// appears before the tables that reference it.
package depgraph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tordrt/revolve/internal/schema"
)

// ErrCycleDetected is returned when the foreign-key graph is not acyclic
var ErrCycleDetected = errors.New("cycle detected in table dependencies")

// CycleError names the tables that could not be ordered
type CycleError struct {
	Tables []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: unresolved tables %s", ErrCycleDetected, strings.Join(e.Tables, ", "))
}

func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

// Link describes one foreign-key column
type Link struct {
	LinksToTable string
	RelType      string
}

// Edges maps table -> column -> link. Tables without foreign keys map to an
// empty (or nil) column map.
type Edges map[string]map[string]Link

// ChildMap maps a table to the tables it links to
type ChildMap map[string][]string

// FromSchema builds the link map for every table in the schema
func FromSchema(s *schema.Schema) Edges {
	edges := make(Edges, len(s.Tables))
	for _, table := range s.Tables {
		cols := make(map[string]Link)
		for _, rel := range table.Relations {
			cols[rel.SourceColumn] = Link{LinksToTable: rel.TargetTable, RelType: rel.Cardinality}
		}
		// Columns carrying a foreign key that the relation list missed
		for _, col := range table.Columns {
			if col.ForeignKey == nil {
				continue
			}
			if _, ok := cols[col.Name]; !ok {
				cols[col.Name] = Link{LinksToTable: col.ForeignKey.Table, RelType: schema.Uncertain}
			}
		}
		edges[table.Name] = cols
	}
	return edges
}

// Resolve builds the child map and a parent-before-child topological order.
//
// Tables that are referenced by another table and have no links of their own
// are dropped from the child map; tables nobody references stay with an empty
// list. Self references are kept in the child map but do not constrain the
// order. On a cycle the returned error wraps ErrCycleDetected and no order is
// returned.
func Resolve(edges Edges) (ChildMap, []string, error) {
	childMap := buildChildMap(edges)

	order, err := sortTables(edges)
	if err != nil {
		return nil, nil, err
	}

	return childMap, order, nil
}

// Levels groups the topological order into dependency levels. Tables in the
// same level do not depend on each other.
func Levels(edges Edges) ([][]string, error) {
	_, order, err := Resolve(edges)
	if err != nil {
		return nil, err
	}

	parents := parentSets(edges)
	level := make(map[string]int, len(order))
	var levels [][]string
	for _, table := range order {
		l := 0
		for _, p := range parents[table] {
			if level[p]+1 > l {
				l = level[p] + 1
			}
		}
		level[table] = l
		for len(levels) <= l {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], table)
	}
	return levels, nil
}

func buildChildMap(edges Edges) ChildMap {
	childMap := make(ChildMap, len(edges))
	referenced := make(map[string]bool)

	for _, table := range sortedKeys(edges) {
		seen := make(map[string]bool)
		links := []string{}
		for _, col := range sortedKeys(edges[table]) {
			target := edges[table][col].LinksToTable
			if target == "" || seen[target] {
				continue
			}
			seen[target] = true
			links = append(links, target)
			if target != table {
				referenced[target] = true
			}
		}
		childMap[table] = links
	}

	for table, links := range childMap {
		if referenced[table] && len(links) == 0 {
			delete(childMap, table)
		}
	}

	return childMap
}

// parentSets returns, per table, the distinct tables it depends on excluding itself
func parentSets(edges Edges) map[string][]string {
	parents := make(map[string][]string, len(edges))
	for _, table := range sortedKeys(edges) {
		seen := make(map[string]bool)
		for _, col := range sortedKeys(edges[table]) {
			target := edges[table][col].LinksToTable
			if target == "" || target == table || seen[target] {
				continue
			}
			seen[target] = true
			parents[table] = append(parents[table], target)
		}
	}
	return parents
}

// sortTables runs Kahn's algorithm over every listed table and every link target
func sortTables(edges Edges) ([]string, error) {
	parents := parentSets(edges)

	nodes := make(map[string]bool)
	for table := range edges {
		nodes[table] = true
	}
	for _, ps := range parents {
		for _, p := range ps {
			nodes[p] = true
		}
	}

	graph := make(map[string][]string)
	inDegree := make(map[string]int, len(nodes))
	for node := range nodes {
		inDegree[node] = 0
	}
	for _, table := range sortedKeys(edges) {
		for _, p := range parents[table] {
			graph[p] = append(graph[p], table)
			inDegree[table]++
		}
	}

	var queue []string
	for _, node := range sortedKeys(nodes) {
		if inDegree[node] == 0 {
			queue = append(queue, node)
		}
	}

	order := make([]string, 0, len(nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, child := range graph[node] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if len(order) != len(nodes) {
		var unresolved []string
		for _, node := range sortedKeys(nodes) {
			if inDegree[node] > 0 {
				unresolved = append(unresolved, node)
			}
		}
		return nil, &CycleError{Tables: unresolved}
	}

	return order, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
