package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME,
	messages    INTEGER NOT NULL DEFAULT 0,
	printed     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	fatal_error TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS conversions (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	message_id  TEXT NOT NULL,
	filename    TEXT NOT NULL,
	digest      TEXT NOT NULL,
	strategy    TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL CHECK(outcome IN ('converted', 'passthrough', 'failed', 'skipped')),
	reason      TEXT NOT NULL DEFAULT '',
	output      TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_conversions_run_id ON conversions(run_id);
CREATE INDEX IF NOT EXISTS idx_conversions_digest ON conversions(digest);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS prints (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	path       TEXT NOT NULL,
	printer    TEXT NOT NULL DEFAULT '',
	success    INTEGER NOT NULL DEFAULT 0 CHECK(success IN (0, 1)),
	reason     TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_prints_run_id ON prints(run_id);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
