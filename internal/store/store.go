// Package store keeps an audit trail of runs and their test records in SQLite.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tordrt/revolve/internal/repair"
)

// ErrRunNotFound is returned when no run has the requested id
var ErrRunNotFound = errors.New("run not found")

// Run statuses
const (
	RunRunning = "running"
	RunDone    = "done"
	RunFailed  = "failed"
)

// Run is a stored run with every test record it produced
type Run struct {
	ID        string          `json:"id"`
	Task      string          `json:"task"`
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Records   []repair.Record `json:"records"`
}

// RunSummary is a lightweight representation for listing runs
type RunSummary struct {
	ID          string    `json:"id"`
	Task        string    `json:"task"`
	Status      string    `json:"status"`
	RecordCount int       `json:"record_count"`
	Succeeded   int       `json:"succeeded"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store persists runs. Implementations must be safe for concurrent use.
type Store interface {
	CreateRun(ctx context.Context, id, task string) error
	FinishRun(ctx context.Context, id, status, errMsg string) error
	SaveRecords(ctx context.Context, runID string, records []repair.Record) error
	SaveRecord(ctx context.Context, runID string, position int, rec repair.Record) error
	LoadRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
	Close() error
}
