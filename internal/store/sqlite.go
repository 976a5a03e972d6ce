package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tordrt/revolve/internal/repair"
)

// SQLiteStore implements Store backed by a SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and applies migrations
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	// One writer at a time; repair loops save concurrently
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error { return s.db.Close() }

// CreateRun records the start of a run
func (s *SQLiteStore) CreateRun(ctx context.Context, id, task string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, task, status, created_at, updated_at) VALUES (?,?,?,?,?)`,
		id, task, RunRunning, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FinishRun sets the final status of a run
func (s *SQLiteStore) FinishRun(ctx context.Context, id, status, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// SaveRecords upserts every record of a run in list order
func (s *SQLiteStore) SaveRecords(ctx context.Context, runID string, records []repair.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for i, rec := range records {
		if err := upsertRecord(ctx, tx, runID, i, rec); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET updated_at = ? WHERE id = ?`, time.Now().UTC(), runID); err != nil {
		return fmt.Errorf("failed to touch run: %w", err)
	}
	return tx.Commit()
}

// SaveRecord upserts a single record, keeping its position in the run
func (s *SQLiteStore) SaveRecord(ctx context.Context, runID string, position int, rec repair.Record) error {
	return upsertRecord(ctx, s.db, runID, position, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertRecord(ctx context.Context, db execer, runID string, position int, rec repair.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", rec.Entity, err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO test_records (run_id, entity, position, status, iterations, resource_file, test_file, record, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT (run_id, entity) DO UPDATE SET
			status = excluded.status,
			iterations = excluded.iterations,
			resource_file = excluded.resource_file,
			test_file = excluded.test_file,
			record = excluded.record,
			updated_at = excluded.updated_at`,
		runID, rec.Entity, position, string(rec.Status), rec.Iterations, rec.ResourceFile, rec.TestFile, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save record %s: %w", rec.Entity, err)
	}
	return nil
}

// LoadRun returns a run with its records in position order
func (s *SQLiteStore) LoadRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{Records: []repair.Record{}}

	var errMsg sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, task, status, error_message, created_at, updated_at FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.Task, &run.Status, &errMsg, &run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	run.Error = errMsg.String

	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM test_records WHERE run_id = ? ORDER BY position, entity`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec repair.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		run.Records = append(run.Records, rec)
	}
	return run, rows.Err()
}

// ListRuns returns the newest runs first. A limit of zero lists every run.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `
		SELECT r.id, r.task, r.status, r.created_at, r.updated_at,
		       (SELECT COUNT(*) FROM test_records t WHERE t.run_id = r.id),
		       (SELECT COUNT(*) FROM test_records t WHERE t.run_id = r.id AND t.status = ?)
		FROM runs r ORDER BY r.created_at DESC, r.id`
	args := []any{string(repair.StatusSuccess)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var rs RunSummary
		if err := rows.Scan(&rs.ID, &rs.Task, &rs.Status, &rs.CreatedAt, &rs.UpdatedAt, &rs.RecordCount, &rs.Succeeded); err != nil {
			return nil, err
		}
		runs = append(runs, rs)
	}
	return runs, rows.Err()
}
