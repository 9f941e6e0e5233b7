package schema

// Schema is the canonical CREATE TABLE script for a fresh CockroachDB
// instance (it uses CockroachDB's STRING column type). It is hand-maintained
// rather than generated from the struct tags in types.go — the tags document column shape
// for tests and tooling, but DDL changes are still reviewed as plain SQL
// diffs.
const Schema = `
CREATE TABLE IF NOT EXISTS test_blueprints (
	id BIGINT PRIMARY KEY,
	title TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS test_run_blueprints (
	id BIGINT PRIMARY KEY,
	test_blueprint_ids BIGINT[] NOT NULL
);

CREATE TABLE IF NOT EXISTS test_runs (
	source STRING NOT NULL,
	ext_id INTEGER NOT NULL,
	blueprint_id BIGINT NOT NULL REFERENCES test_run_blueprints(id),
	timestamp TIMESTAMPTZ NOT NULL,
	branch TEXT,
	commit_id BYTEA NOT NULL,
	result_spec BYTEA,
	PRIMARY KEY (source, ext_id)
);

CREATE INDEX IF NOT EXISTS test_runs_timestamp_idx ON test_runs (timestamp);
CREATE INDEX IF NOT EXISTS test_runs_blueprint_commit_ts_idx
	ON test_runs (blueprint_id, commit_id, timestamp);

CREATE TABLE IF NOT EXISTS test_flakes (
	test_run_source STRING NOT NULL,
	test_run_ext_id INTEGER NOT NULL,
	test_blueprint_id BIGINT NOT NULL,
	PRIMARY KEY (test_run_source, test_run_ext_id, test_blueprint_id),
	FOREIGN KEY (test_run_source, test_run_ext_id) REFERENCES test_runs(source, ext_id),
	FOREIGN KEY (test_blueprint_id) REFERENCES test_blueprints(id)
);

CREATE TABLE IF NOT EXISTS prs (
	number INTEGER PRIMARY KEY,
	merged_at TIMESTAMPTZ NOT NULL,
	status STRING NOT NULL
);
`

// TableNames returns the lowercase name of every table in Schema, in
// FK-safe declaration order, so test fixtures can sweep the whole storage
// graph (see sqltest.RowCounts) without hand-maintaining their own list.
func TableNames() []string {
	return []string{
		"test_blueprints",
		"test_run_blueprints",
		"test_runs",
		"test_flakes",
		"prs",
	}
}
