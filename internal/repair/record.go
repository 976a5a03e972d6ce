package repair

import (
	"time"

	"github.com/tordrt/revolve/internal/llm"
	"github.com/tordrt/revolve/internal/testrunner"
)

// Status of an entity's test record
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// Terminal reports whether the loop has nothing left to do for this status
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusSkipped
}

// Kind of history entry
type Kind string

const (
	KindCreation Kind = "creation"
	KindRevision Kind = "revision"
)

// HistoryEntry records one change to an entity's sources and the test
// reports around it. Entries are never modified once appended.
type HistoryEntry struct {
	Kind      Kind               `json:"kind"`
	Target    string             `json:"target"`
	Problem   string             `json:"problem,omitempty"`
	Fix       string             `json:"fix,omitempty"`
	Code      string             `json:"code"`
	Before    *testrunner.Report `json:"before"`
	After     testrunner.Report  `json:"after"`
	Iteration int                `json:"iteration"`
	Time      time.Time          `json:"time"`
	Prompt    *Prompt            `json:"prompt,omitempty"`
}

// Prompt is the model request that produced a history entry
type Prompt struct {
	System   string        `json:"system,omitempty"`
	Messages []llm.Message `json:"messages"`
}

func promptOf(req llm.Request) *Prompt {
	return &Prompt{System: req.System, Messages: req.Messages}
}

// Record tracks test generation and repair for one entity
type Record struct {
	Entity         string         `json:"entity"`
	Status         Status         `json:"status"`
	Iterations     int            `json:"iteration_count"`
	ResourceFile   string         `json:"resource_file"`
	ResourceSource string         `json:"resource_source"`
	TestFile       string         `json:"test_file,omitempty"`
	TestSource     string         `json:"test_source,omitempty"`
	SkipReason     string         `json:"skip_reason,omitempty"`
	History        []HistoryEntry `json:"history"`
}

// NewRecord starts a pending record for a generated resource
func NewRecord(entity, resourceFile, resourceSource string) Record {
	return Record{
		Entity:         entity,
		Status:         StatusPending,
		ResourceFile:   resourceFile,
		ResourceSource: resourceSource,
		History:        []HistoryEntry{},
	}
}

// Skip marks a record as deliberately not tested
func Skip(rec Record, reason string) Record {
	rec.Status = StatusSkipped
	rec.SkipReason = reason
	return rec
}

// LastReport returns the most recent test report, or nil before the first run
func (r Record) LastReport() *testrunner.Report {
	if len(r.History) == 0 {
		return nil
	}
	report := r.History[len(r.History)-1].After
	return &report
}
