package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tordrt/revolve/internal/pipeline"
	"github.com/tordrt/revolve/internal/progress"
	"github.com/tordrt/revolve/internal/repair"
	"github.com/tordrt/revolve/internal/store"
)

// scriptedRunner replays fixed events and remembers the task
type scriptedRunner struct {
	events []progress.Event
	task   pipeline.Task
}

func (r *scriptedRunner) Run(_ context.Context, task pipeline.Task) <-chan progress.Event {
	r.task = task
	ch := make(chan progress.Event, len(r.events))
	for _, e := range r.events {
		ch <- e
	}
	close(ch)
	return ch
}

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStartRunStreamsEvents(t *testing.T) {
	runner := &scriptedRunner{events: []progress.Event{
		{RunID: "r1", Name: "extract_schema", Text: "Schema extracted.", Status: progress.StatusProcessing, Level: progress.LevelSystem},
		{RunID: "r1", Name: "workflow", Text: "Workflow finished.", Status: progress.StatusDone, Level: progress.LevelSystem},
	}}
	s := New(runner, nil, nil, nil)

	body := `{"prompt": "CRUD for users", "tables": ["users"], "test_mode": false}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	var got []progress.Event
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		var e progress.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "extract_schema", got[0].Name)
	assert.Equal(t, progress.StatusDone, got[1].Status)

	assert.Equal(t, "CRUD for users", runner.task.Prompt())
	assert.Equal(t, []string{"users"}, runner.task.Tables)
	require.NotNil(t, runner.task.TestMode)
	assert.False(t, *runner.task.TestMode)
}

func TestStartRunRequiresPrompt(t *testing.T) {
	s := New(&scriptedRunner{}, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunHistory(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateRun(ctx, "run-1", "CRUD for users"))
	require.NoError(t, st.SaveRecord(ctx, "run-1", 0, repair.NewRecord("users", "users.py", "code")))
	require.NoError(t, st.FinishRun(ctx, "run-1", store.RunDone, ""))

	s := New(&scriptedRunner{}, st, nil, nil)

	tests := []struct {
		name   string
		path   string
		status int
		check  func(t *testing.T, body string)
	}{
		{"list", "/api/v1/runs", http.StatusOK, func(t *testing.T, body string) {
			var runs []store.RunSummary
			require.NoError(t, json.Unmarshal([]byte(body), &runs))
			require.Len(t, runs, 1)
			assert.Equal(t, "run-1", runs[0].ID)
			assert.Equal(t, 1, runs[0].RecordCount)
		}},
		{"list with limit", "/api/v1/runs?limit=5", http.StatusOK, nil},
		{"bad limit", "/api/v1/runs?limit=x", http.StatusBadRequest, nil},
		{"get", "/api/v1/runs/run-1", http.StatusOK, func(t *testing.T, body string) {
			var run store.Run
			require.NoError(t, json.Unmarshal([]byte(body), &run))
			assert.Equal(t, store.RunDone, run.Status)
			require.Len(t, run.Records, 1)
			assert.Equal(t, "users", run.Records[0].Entity)
		}},
		{"missing", "/api/v1/runs/nope", http.StatusNotFound, nil},
		{"health", "/healthz", http.StatusOK, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
			if tt.check != nil {
				tt.check(t, rec.Body.String())
			}
		})
	}
}

func TestHistoryDisabled(t *testing.T) {
	s := New(&scriptedRunner{}, nil, nil, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
