package workflow

import (
	"context"

	"github.com/tordrt/revolve/internal/repair"
)

// Node names a step in the workflow graph
type Node string

const (
	NodeClassify      Node = "classify_intent"
	NodeRespondBack   Node = "respond_back"
	NodeOtherTasks    Node = "other_tasks"
	NodeToolExecutor  Node = "tool_executor"
	NodeRouter        Node = "start_routing"
	NodeExtract       Node = "extract_schema"
	NodeGenerate      Node = "per_entity_generate"
	NodeAssemble      Node = "assemble_surface"
	NodeTestAndRepair Node = "test_and_repair"
	NodeReport        Node = "report"
	NodeTerminal      Node = "terminal"
)

// Route decides where the run goes next from what the state already holds.
// It performs no I/O and may be revisited after every phase.
func Route(s *State) Update {
	switch {
	case s.Schema == nil:
		return Update{NextNode: NodeExtract}
	case len(s.Artifacts) > 0 && len(s.Records) == 0:
		return Update{Records: records(s), NextNode: NodeTestAndRepair}
	case s.NextNode == NodeTestAndRepair:
		return Update{NextNode: NodeReport}
	default:
		return Update{NextNode: NodeTerminal}
	}
}

// records pairs every artifact with its entity, in schema order
func records(s *State) []repair.Record {
	names := s.Order
	if len(names) == 0 {
		names = s.Schema.TableNames()
	}

	recs := make([]repair.Record, 0, len(s.Artifacts))
	seen := make(map[string]bool, len(s.Artifacts))
	for _, name := range names {
		a, ok := s.Artifact(name)
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		recs = append(recs, repair.NewRecord(a.Entity, a.FileName, a.Source))
	}
	for _, a := range s.Artifacts {
		if !seen[a.Entity] {
			seen[a.Entity] = true
			recs = append(recs, repair.NewRecord(a.Entity, a.FileName, a.Source))
		}
	}
	return recs
}

// RouteStep adapts Route to a graph step
func RouteStep(_ context.Context, s State) (Update, error) {
	return Route(&s), nil
}

// FollowCursor is the transition out of the router
func FollowCursor(s *State) Next {
	return Goto(s.NextNode)
}
