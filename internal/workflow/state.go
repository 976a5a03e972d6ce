package workflow

import (
	"time"

	"github.com/tordrt/revolve/internal/depgraph"
	"github.com/tordrt/revolve/internal/llm"
	"github.com/tordrt/revolve/internal/repair"
	"github.com/tordrt/revolve/internal/schema"
)

// Endpoint is one route exposed by a generated resource
type Endpoint struct {
	Path    string `json:"path"`
	Handler string `json:"handler"`
}

// Artifact is the generated service module for one entity
type Artifact struct {
	Entity   string     `json:"entity"`
	FileName string     `json:"file_name"`
	Source   string     `json:"source"`
	Routes   []Endpoint `json:"routes"`
}

// TraceKind tells low-level step chatter apart from milestones
type TraceKind string

const (
	TraceStep    TraceKind = "step"
	TraceUnit    TraceKind = "unit"
	TraceTool    TraceKind = "tool"
	TraceFailure TraceKind = "failure"
)

// TraceRecord describes one completed piece of work
type TraceRecord struct {
	Step        Node      `json:"step"`
	Kind        TraceKind `json:"kind"`
	Input       string    `json:"input,omitempty"`
	Output      string    `json:"output,omitempty"`
	Description string    `json:"description"`
	Time        time.Time `json:"time"`
}

// NewTrace stamps a trace record with the current time
func NewTrace(step Node, kind TraceKind, description string) TraceRecord {
	return TraceRecord{Step: step, Kind: kind, Description: description, Time: time.Now()}
}

// State is the document threaded through every step of a run
type State struct {
	RunID    string
	Task     string
	Messages []llm.Message

	Schema   *schema.Schema
	Order    []string
	ChildMap depgraph.ChildMap

	Artifacts []Artifact
	Records   []repair.Record

	NextNode       Node
	Classification string
	TestMode       bool
	APIFile        string
	ReadmeWritten  bool

	Trace []TraceRecord
}

// Update is a partial state returned by a step. List fields are appended,
// other fields replace the current value when set. Records is handed back
// whole and replaces the current list.
type Update struct {
	Messages  []llm.Message
	Artifacts []Artifact
	Trace     []TraceRecord

	Schema         *schema.Schema
	Order          []string
	ChildMap       depgraph.ChildMap
	Records        []repair.Record
	NextNode       Node
	Classification string
	TestMode       *bool
	APIFile        string
	ReadmeWritten  bool
}

// Apply merges u into s. An artifact for an entity that already has one
// replaces it in place.
func (s *State) Apply(u Update) {
	s.Messages = append(s.Messages, u.Messages...)
	s.Trace = append(s.Trace, u.Trace...)
	for _, a := range u.Artifacts {
		s.putArtifact(a)
	}

	if u.Schema != nil {
		s.Schema = u.Schema
	}
	if u.Order != nil {
		s.Order = u.Order
	}
	if u.ChildMap != nil {
		s.ChildMap = u.ChildMap
	}
	if u.Records != nil {
		s.Records = u.Records
	}
	if u.NextNode != "" {
		s.NextNode = u.NextNode
	}
	if u.Classification != "" {
		s.Classification = u.Classification
	}
	if u.TestMode != nil {
		s.TestMode = *u.TestMode
	}
	if u.APIFile != "" {
		s.APIFile = u.APIFile
	}
	if u.ReadmeWritten {
		s.ReadmeWritten = true
	}
}

func (s *State) putArtifact(a Artifact) {
	for i := range s.Artifacts {
		if s.Artifacts[i].Entity == a.Entity {
			s.Artifacts[i] = a
			return
		}
	}
	s.Artifacts = append(s.Artifacts, a)
}

// Artifact returns the artifact generated for entity, if any
func (s *State) Artifact(entity string) (Artifact, bool) {
	for _, a := range s.Artifacts {
		if a.Entity == entity {
			return a, true
		}
	}
	return Artifact{}, false
}

// LastTrace returns the newest trace record
func (s *State) LastTrace() (TraceRecord, bool) {
	if len(s.Trace) == 0 {
		return TraceRecord{}, false
	}
	return s.Trace[len(s.Trace)-1], true
}
