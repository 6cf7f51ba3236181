package sqlstore

// schema is executed once on Open. Every statement is idempotent so
// opening an existing database file is safe.
const schema = `
CREATE TABLE IF NOT EXISTS secrets (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	path            TEXT NOT NULL,
	encrypted_value TEXT NOT NULL,
	type            TEXT NOT NULL DEFAULT 'secret',
	version         INTEGER NOT NULL DEFAULT 1,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL,
	tags            TEXT NOT NULL DEFAULT '[]',
	metadata        TEXT NOT NULL DEFAULT '{}'
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_secrets_path ON secrets(path);

CREATE TABLE IF NOT EXISTS secret_versions (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	path            TEXT NOT NULL,
	encrypted_value TEXT NOT NULL,
	version         INTEGER NOT NULL,
	created_at      TEXT NOT NULL,
	created_by      TEXT
);
CREATE INDEX IF NOT EXISTS idx_secret_versions_path ON secret_versions(path);

CREATE TABLE IF NOT EXISTS branches (
	name            TEXT NOT NULL,
	head_commit_id  INTEGER,
	created_at      TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_branches_name ON branches(name);

CREATE TABLE IF NOT EXISTS commits (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	parent_id       INTEGER,
	message         TEXT NOT NULL,
	author          TEXT NOT NULL,
	timestamp       TEXT NOT NULL,
	branch          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS commit_secrets (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	commit_id       INTEGER NOT NULL,
	path            TEXT NOT NULL,
	encrypted_value TEXT NOT NULL,
	type            TEXT NOT NULL,
	tags            TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_commit_secrets_commit_id ON commit_secrets(commit_id);
`

// Note: the original SQLAlchemy schema also carried an audit_log table
// with an index on (timestamp, action, path). spec.md's own §6
// ("Persisted state layout") and §4.5 settle on a newline-JSON file as
// the audit ledger rather than a DB table, so that index has no table
// to attach to here — audit.Logger appends JSON lines to audit_path
// instead (see package audit). Recorded in DESIGN.md.
