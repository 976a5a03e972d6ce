package store

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    task TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'running',
    error_message TEXT DEFAULT '',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS test_records (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    entity TEXT NOT NULL,
    position INTEGER NOT NULL,
    status TEXT NOT NULL,
    iterations INTEGER NOT NULL DEFAULT 0,
    resource_file TEXT DEFAULT '',
    test_file TEXT DEFAULT '',
    record TEXT NOT NULL,
    updated_at DATETIME NOT NULL,
    PRIMARY KEY (run_id, entity)
);
CREATE INDEX IF NOT EXISTS idx_test_records_run ON test_records(run_id, position);
`
