// Package workflow runs named steps over a shared State. Transitions may be
// static or chosen from the state, and a transition may fan out into
// concurrent units that join at the first step reachable from all of them.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tordrt/revolve/internal/schema"
)

// DefaultMaxSteps bounds the number of steps in one run
const DefaultMaxSteps = 50

var (
	// ErrStepLimit is returned when a run exceeds its step budget
	ErrStepLimit = errors.New("workflow step limit exceeded")
	// ErrUnknownNode is returned when a transition leads to an unregistered node
	ErrUnknownNode = errors.New("unknown workflow node")
)

// StepFunc runs one step. The state is a read-only view.
type StepFunc func(ctx context.Context, s State) (Update, error)

// UnitFunc runs one fan-out unit. It only sees its own send.
type UnitFunc func(ctx context.Context, send Send) (Update, error)

// Transition picks the next node from the merged state
type Transition func(s *State) Next

// Send dispatches one unit for one table
type Send struct {
	Node    Node
	Table   schema.Table
	Related []schema.Table
}

// Next is the result of a transition: either a single node or a fan-out
type Next struct {
	Node   Node
	Sends  []Send
	fanOut bool
}

// Goto continues at node
func Goto(node Node) Next {
	return Next{Node: node}
}

// FanOut dispatches every send concurrently
func FanOut(sends ...Send) Next {
	return Next{Sends: sends, fanOut: true}
}

// Observer is told about every merged update
type Observer interface {
	StepCompleted(node Node, s *State, u Update)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(node Node, s *State, u Update)

func (f ObserverFunc) StepCompleted(node Node, s *State, u Update) { f(node, s, u) }

type conditional struct {
	fn      Transition
	targets []Node
}

// Graph holds the steps and edges of a workflow
type Graph struct {
	entry Node
	steps map[Node]StepFunc
	units map[Node]UnitFunc
	edges map[Node]Node
	conds map[Node]conditional

	// Workers limits concurrent units; zero means one unit per send
	Workers  int
	MaxSteps int
	Observer Observer
	Logger   *zap.Logger
}

// NewGraph creates an empty graph starting at entry
func NewGraph(entry Node) *Graph {
	return &Graph{
		entry: entry,
		steps: make(map[Node]StepFunc),
		units: make(map[Node]UnitFunc),
		edges: make(map[Node]Node),
		conds: make(map[Node]conditional),
	}
}

// AddStep registers a step
func (g *Graph) AddStep(node Node, fn StepFunc) *Graph {
	g.steps[node] = fn
	return g
}

// AddUnit registers a fan-out unit. Units need a static edge to the step
// that follows them.
func (g *Graph) AddUnit(node Node, fn UnitFunc) *Graph {
	g.units[node] = fn
	return g
}

// AddEdge adds a static transition
func (g *Graph) AddEdge(from, to Node) *Graph {
	g.edges[from] = to
	return g
}

// AddConditional adds a transition chosen at run time. targets lists the
// units the transition may fan out to, used to find the join when a fan-out
// has nothing to send.
func (g *Graph) AddConditional(from Node, fn Transition, targets ...Node) *Graph {
	g.conds[from] = conditional{fn: fn, targets: targets}
	return g
}

// Run executes the graph until the terminal node. The state is updated in
// place. The context is checked before every step.
func (g *Graph) Run(ctx context.Context, s *State) error {
	logger := g.logger()
	node := g.entry

	for steps := 0; node != NodeTerminal; steps++ {
		if steps >= g.maxSteps() {
			return fmt.Errorf("%w: %d steps, last node %s", ErrStepLimit, steps, node)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		step, ok := g.steps[node]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownNode, node)
		}

		logger.Debug("running step", zap.String("node", string(node)))
		update, err := step(ctx, *s)
		if err != nil {
			return fmt.Errorf("step %s failed: %w", node, err)
		}
		g.merge(node, s, update)

		next, err := g.transition(node, s)
		if err != nil {
			return err
		}
		if !next.fanOut {
			node = next.Node
			continue
		}

		join, err := g.join(node, next.Sends)
		if err != nil {
			return err
		}
		if err := g.dispatch(ctx, s, next.Sends); err != nil {
			return err
		}
		node = join
	}

	logger.Debug("workflow reached terminal node")
	return nil
}

func (g *Graph) transition(node Node, s *State) (Next, error) {
	if c, ok := g.conds[node]; ok {
		return c.fn(s), nil
	}
	if to, ok := g.edges[node]; ok {
		return Goto(to), nil
	}
	return Next{}, fmt.Errorf("%w: no transition out of %s", ErrUnknownNode, node)
}

// dispatch runs every send and merges the results in dispatch order once all
// of them have finished
func (g *Graph) dispatch(ctx context.Context, s *State, sends []Send) error {
	for _, send := range sends {
		if _, ok := g.units[send.Node]; !ok {
			return fmt.Errorf("%w: unit %s", ErrUnknownNode, send.Node)
		}
	}

	results := make([]Update, len(sends))
	eg, ectx := errgroup.WithContext(ctx)
	if g.Workers > 0 {
		eg.SetLimit(g.Workers)
	}
	for i, send := range sends {
		eg.Go(func() error {
			u, err := g.units[send.Node](ectx, send)
			if err != nil {
				return fmt.Errorf("unit %s for %s failed: %w", send.Node, send.Table.Name, err)
			}
			results[i] = u
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for i, u := range results {
		g.merge(sends[i].Node, s, u)
	}
	return nil
}

// join finds the first node reachable over static edges from every unit the
// fan-out targets
func (g *Graph) join(from Node, sends []Send) (Node, error) {
	var targets []Node
	seen := make(map[Node]bool)
	for _, send := range sends {
		if !seen[send.Node] {
			seen[send.Node] = true
			targets = append(targets, send.Node)
		}
	}
	if len(targets) == 0 {
		targets = g.conds[from].targets
	}
	if len(targets) == 0 {
		return "", fmt.Errorf("%w: fan-out from %s has no targets", ErrUnknownNode, from)
	}

	first := g.reachable(targets[0])
	others := make([]map[Node]bool, 0, len(targets)-1)
	for _, t := range targets[1:] {
		set := make(map[Node]bool)
		for _, n := range g.reachable(t) {
			set[n] = true
		}
		others = append(others, set)
	}

	for _, candidate := range first {
		common := true
		for _, set := range others {
			if !set[candidate] {
				common = false
				break
			}
		}
		if common {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: fan-out from %s never joins", ErrUnknownNode, from)
}

// reachable lists nodes reachable from start over static edges in BFS order,
// excluding start itself
func (g *Graph) reachable(start Node) []Node {
	var order []Node
	visited := map[Node]bool{start: true}
	queue := []Node{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		to, ok := g.edges[n]
		if !ok || visited[to] {
			continue
		}
		visited[to] = true
		order = append(order, to)
		queue = append(queue, to)
	}
	return order
}

func (g *Graph) merge(node Node, s *State, u Update) {
	s.Apply(u)
	if g.Observer != nil {
		g.Observer.StepCompleted(node, s, u)
	}
}

func (g *Graph) maxSteps() int {
	if g.MaxSteps <= 0 {
		return DefaultMaxSteps
	}
	return g.MaxSteps
}

func (g *Graph) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}
