package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tordrt/revolve/internal/repair"
	"github.com/tordrt/revolve/internal/testrunner"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateRun(ctx, "run-1", "build users api"))

	users := repair.NewRecord("users", "users.py", "code")
	users.Status = repair.StatusSuccess
	users.TestFile = "test_users.py"
	users.History = append(users.History, repair.HistoryEntry{
		Kind:  repair.KindCreation,
		After: testrunner.Report{Outcome: testrunner.OutcomeSuccess, Summary: testrunner.Summary{Total: 2, Passed: 2}},
	})
	orders := repair.Skip(repair.NewRecord("orders", "orders.py", "code"), "not in test mode")

	require.NoError(t, s.SaveRecords(ctx, "run-1", []repair.Record{users, orders}))
	require.NoError(t, s.FinishRun(ctx, "run-1", RunDone, ""))

	run, err := s.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "build users api", run.Task)
	assert.Equal(t, RunDone, run.Status)
	assert.False(t, run.CreatedAt.IsZero())
	require.Len(t, run.Records, 2)
	assert.Equal(t, "users", run.Records[0].Entity)
	assert.Equal(t, testrunner.OutcomeSuccess, run.Records[0].History[0].After.Outcome)
	assert.Equal(t, "not in test mode", run.Records[1].SkipReason)
}

func TestSaveRecordUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateRun(ctx, "run-1", "task"))

	rec := repair.NewRecord("users", "users.py", "v1")
	require.NoError(t, s.SaveRecord(ctx, "run-1", 0, rec))

	rec.Status = repair.StatusFailed
	rec.Iterations = 3
	rec.ResourceSource = "v2"
	require.NoError(t, s.SaveRecord(ctx, "run-1", 0, rec))

	run, err := s.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, run.Records, 1)
	assert.Equal(t, repair.StatusFailed, run.Records[0].Status)
	assert.Equal(t, 3, run.Records[0].Iterations)
	assert.Equal(t, "v2", run.Records[0].ResourceSource)
}

func TestConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateRun(ctx, "run-1", "task"))

	entities := []string{"a", "b", "c", "d", "e", "f"}
	var wg sync.WaitGroup
	for i, name := range entities {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.SaveRecord(ctx, "run-1", i, repair.NewRecord(name, name+".py", "")))
		}()
	}
	wg.Wait()

	run, err := s.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	var got []string
	for _, r := range run.Records {
		got = append(got, r.Entity)
	}
	assert.Equal(t, entities, got)
}

func TestListRuns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateRun(ctx, "run-1", "first"))
	require.NoError(t, s.CreateRun(ctx, "run-2", "second"))

	ok := repair.NewRecord("users", "users.py", "")
	ok.Status = repair.StatusSuccess
	require.NoError(t, s.SaveRecords(ctx, "run-2", []repair.Record{ok, repair.NewRecord("orders", "orders.py", "")}))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	byID := map[string]RunSummary{}
	for _, r := range runs {
		byID[r.ID] = r
	}
	assert.Equal(t, 2, byID["run-2"].RecordCount)
	assert.Equal(t, 1, byID["run-2"].Succeeded)
	assert.Equal(t, 0, byID["run-1"].RecordCount)
	assert.Equal(t, RunRunning, byID["run-1"].Status)

	limited, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMissingRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.LoadRun(ctx, "nope")
	assert.True(t, errors.Is(err, ErrRunNotFound))

	err = s.FinishRun(ctx, "nope", RunFailed, "boom")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}
