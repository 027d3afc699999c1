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

CREATE TABLE IF NOT EXISTS folders (
	name         TEXT PRIMARY KEY,
	description  TEXT NOT NULL DEFAULT '',
	last_updated DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	message_id        TEXT PRIMARY KEY,
	folder            TEXT NOT NULL,
	uid               INTEGER NOT NULL DEFAULT 0,
	subject           TEXT NOT NULL DEFAULT '',
	sender            TEXT NOT NULL DEFAULT '',
	classified_folder TEXT,
	labels            TEXT NOT NULL DEFAULT '[]',
	confidence        REAL,
	moved             INTEGER NOT NULL DEFAULT 0 CHECK(moved IN (0, 1)),
	processed_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS marks (
	folder   TEXT PRIMARY KEY,
	last_uid INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_folder ON messages(folder);
CREATE INDEX IF NOT EXISTS idx_messages_classified ON messages(classified_folder);
CREATE INDEX IF NOT EXISTS idx_messages_processed_at ON messages(processed_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
