package database

// Migration represents a database migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// migrations contains all database migrations in order
var migrations = []Migration{
	{
		Version: "001_runs",
		Up: `
CREATE TABLE runs (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    volume_root TEXT NOT NULL,
    destinations INTEGER NOT NULL,
    succeeded INTEGER NOT NULL DEFAULT 0,
    interrupted BOOLEAN NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    finished_at DATETIME NOT NULL
);

CREATE INDEX idx_runs_started ON runs(started_at);

CREATE TABLE outcomes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_uuid TEXT NOT NULL,
    position INTEGER NOT NULL,
    destination TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    kind TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    elapsed_ms INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (run_uuid) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX idx_outcomes_run ON outcomes(run_uuid);
`,
		Down: `
DROP TABLE outcomes;
DROP TABLE runs;
`,
	},
	{
		Version: "002_outcome_space",
		Up: `
ALTER TABLE outcomes ADD COLUMN required_bytes INTEGER NOT NULL DEFAULT 0;
ALTER TABLE outcomes ADD COLUMN available_bytes INTEGER NOT NULL DEFAULT 0;
`,
	},
	{
		Version: "003_run_consumers",
		Up: `
ALTER TABLE runs ADD COLUMN consumers TEXT NOT NULL DEFAULT '';
ALTER TABLE runs ADD COLUMN consumer_error TEXT NOT NULL DEFAULT '';
`,
	},
}
