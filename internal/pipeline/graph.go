package pipeline

import (
	"go.uber.org/zap"

	"github.com/tordrt/revolve/internal/llm"
	"github.com/tordrt/revolve/internal/tools"
	"github.com/tordrt/revolve/internal/workflow"
)

// BuildGraph wires the steps of one run. The graph starts at intent
// classification when workflow.classify_intent is set and at the router
// otherwise.
func (d *Driver) BuildGraph(task Task, logger *zap.Logger) *workflow.Graph {
	if logger == nil {
		logger = d.logger()
	}
	registry := d.Tools
	if registry == nil {
		registry = tools.NewRegistry(logger)
	}

	s := &steps{
		d:        d,
		cfg:      d.Config,
		task:     task,
		tools:    registry,
		commit:   d.committer(),
		testMode: d.Config.Test.Enabled,
		logger:   logger,
	}
	if task.TestMode != nil {
		s.testMode = *task.TestMode
	}

	entry := workflow.NodeRouter
	if d.Config.Workflow.ClassifyIntent {
		entry = workflow.NodeClassify
	}

	g := workflow.NewGraph(entry).
		AddStep(workflow.NodeClassify, s.classify).
		AddConditional(workflow.NodeClassify, routeIntent).
		AddStep(workflow.NodeRespondBack, s.respondBack).
		AddEdge(workflow.NodeRespondBack, workflow.NodeTerminal).
		AddStep(workflow.NodeOtherTasks, s.handleTools).
		AddConditional(workflow.NodeOtherTasks, pendingToolCalls).
		AddStep(workflow.NodeToolExecutor, s.executeTools).
		AddEdge(workflow.NodeToolExecutor, workflow.NodeOtherTasks).
		AddStep(workflow.NodeRouter, workflow.RouteStep).
		AddConditional(workflow.NodeRouter, workflow.FollowCursor).
		AddStep(workflow.NodeExtract, s.extract).
		AddConditional(workflow.NodeExtract, dispatchEntities, workflow.NodeGenerate).
		AddUnit(workflow.NodeGenerate, s.generateEntity).
		AddEdge(workflow.NodeGenerate, workflow.NodeAssemble).
		AddStep(workflow.NodeAssemble, s.assemble).
		AddEdge(workflow.NodeAssemble, workflow.NodeRouter).
		AddStep(workflow.NodeTestAndRepair, s.testAndRepair).
		AddEdge(workflow.NodeTestAndRepair, workflow.NodeRouter).
		AddStep(workflow.NodeReport, s.report).
		AddEdge(workflow.NodeReport, workflow.NodeRouter)

	g.Workers = d.Config.Workflow.Workers
	g.MaxSteps = d.Config.Workflow.MaxSteps
	g.Logger = logger
	return g
}

// routeIntent follows the classification
func routeIntent(s *workflow.State) workflow.Next {
	switch s.Classification {
	case llm.IntentRespondBack:
		return workflow.Goto(workflow.NodeRespondBack)
	case llm.IntentOtherTasks:
		return workflow.Goto(workflow.NodeOtherTasks)
	default:
		return workflow.Goto(workflow.NodeRouter)
	}
}

// pendingToolCalls keeps the tool sub-loop going while the model asks for tools
func pendingToolCalls(s *workflow.State) workflow.Next {
	if n := len(s.Messages); n > 0 && len(s.Messages[n-1].ToolCalls) > 0 {
		return workflow.Goto(workflow.NodeToolExecutor)
	}
	return workflow.Goto(workflow.NodeTerminal)
}

// dispatchEntities sends one generation unit per selected table, parents
// first. Each send carries the table and the tables it references.
func dispatchEntities(s *workflow.State) workflow.Next {
	sends := make([]workflow.Send, 0, len(s.Order))
	for _, name := range s.Order {
		table := s.Schema.Table(name)
		if table == nil {
			continue
		}
		send := workflow.Send{Node: workflow.NodeGenerate, Table: *table}
		for _, parent := range s.ChildMap[name] {
			if parent == name {
				continue
			}
			if related := s.Schema.Table(parent); related != nil {
				send.Related = append(send.Related, *related)
			}
		}
		sends = append(sends, send)
	}
	return workflow.FanOut(sends...)
}
