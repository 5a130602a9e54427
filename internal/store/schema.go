package store

// Dialect selects placeholder style and DDL for a SQL backend.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS import_batches (
		id            TEXT PRIMARY KEY,
		task_id       TEXT NOT NULL,
		file_name     TEXT NOT NULL DEFAULT '',
		imported_by   TEXT NOT NULL DEFAULT '',
		state         TEXT NOT NULL,
		total_rows    INTEGER NOT NULL DEFAULT 0,
		success_rows  INTEGER NOT NULL DEFAULT 0,
		failed_rows   INTEGER NOT NULL DEFAULT 0,
		error         TEXT NOT NULL DEFAULT '',
		started_at    TIMESTAMPTZ NOT NULL,
		finished_at   TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS categories (
		id         BIGSERIAL PRIMARY KEY,
		name       TEXT NOT NULL,
		level      INTEGER NOT NULL,
		parent_id  BIGINT NOT NULL DEFAULT 0,
		code       TEXT NOT NULL DEFAULT '',
		UNIQUE (name, level, parent_id)
	)`,
	`CREATE TABLE IF NOT EXISTS warranties (
		id               BIGSERIAL PRIMARY KEY,
		contract_no      TEXT NOT NULL UNIQUE,
		provider         TEXT NOT NULL DEFAULT '',
		provider_level   INTEGER NOT NULL DEFAULT 1,
		status           TEXT NOT NULL DEFAULT '',
		start_date       DATE NOT NULL,
		end_date         DATE NOT NULL,
		life_years       INTEGER NOT NULL DEFAULT 5,
		acceptance_date  DATE
	)`,
	`CREATE TABLE IF NOT EXISTS assets (
		id                  BIGSERIAL PRIMARY KEY,
		uuid                TEXT NOT NULL UNIQUE,
		asset_no            TEXT NOT NULL UNIQUE,
		name                TEXT NOT NULL,
		status              TEXT NOT NULL,
		serial_no           TEXT NOT NULL DEFAULT '',
		model               TEXT NOT NULL DEFAULT '',
		category_id         BIGINT NOT NULL DEFAULT 0,
		category_hierarchy  TEXT NOT NULL DEFAULT '{}',
		space_id            BIGINT NOT NULL DEFAULT 0,
		warranty_id         BIGINT NOT NULL DEFAULT 0,
		fingerprint         TEXT NOT NULL UNIQUE,
		import_batch        TEXT NOT NULL DEFAULT '',
		created_at          TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS assets_import_batch_idx ON assets (import_batch)`,
	`CREATE TABLE IF NOT EXISTS spaces (
		id             BIGSERIAL PRIMARY KEY,
		asset_id       BIGINT NOT NULL REFERENCES assets (id),
		data_center    TEXT NOT NULL DEFAULT '',
		room           TEXT NOT NULL DEFAULT '',
		cabinet        TEXT NOT NULL DEFAULT '',
		u_position     TEXT NOT NULL DEFAULT '',
		location_path  TEXT NOT NULL DEFAULT '',
		is_current     BOOLEAN NOT NULL DEFAULT TRUE,
		valid_from     TIMESTAMPTZ NOT NULL,
		valid_to       TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS change_traces (
		id           BIGSERIAL PRIMARY KEY,
		asset_id     BIGINT NOT NULL REFERENCES assets (id),
		change_type  TEXT NOT NULL,
		delta        TEXT NOT NULL DEFAULT '{}',
		operated_by  TEXT NOT NULL,
		operated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS change_traces_asset_idx ON change_traces (asset_id)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS import_batches (
		id            TEXT PRIMARY KEY,
		task_id       TEXT NOT NULL,
		file_name     TEXT NOT NULL DEFAULT '',
		imported_by   TEXT NOT NULL DEFAULT '',
		state         TEXT NOT NULL,
		total_rows    INTEGER NOT NULL DEFAULT 0,
		success_rows  INTEGER NOT NULL DEFAULT 0,
		failed_rows   INTEGER NOT NULL DEFAULT 0,
		error         TEXT NOT NULL DEFAULT '',
		started_at    TIMESTAMP NOT NULL,
		finished_at   TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS categories (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT NOT NULL,
		level      INTEGER NOT NULL,
		parent_id  INTEGER NOT NULL DEFAULT 0,
		code       TEXT NOT NULL DEFAULT '',
		UNIQUE (name, level, parent_id)
	)`,
	`CREATE TABLE IF NOT EXISTS warranties (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		contract_no      TEXT NOT NULL UNIQUE,
		provider         TEXT NOT NULL DEFAULT '',
		provider_level   INTEGER NOT NULL DEFAULT 1,
		status           TEXT NOT NULL DEFAULT '',
		start_date       DATE NOT NULL,
		end_date         DATE NOT NULL,
		life_years       INTEGER NOT NULL DEFAULT 5,
		acceptance_date  DATE
	)`,
	`CREATE TABLE IF NOT EXISTS assets (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid                TEXT NOT NULL UNIQUE,
		asset_no            TEXT NOT NULL UNIQUE,
		name                TEXT NOT NULL,
		status              TEXT NOT NULL,
		serial_no           TEXT NOT NULL DEFAULT '',
		model               TEXT NOT NULL DEFAULT '',
		category_id         INTEGER NOT NULL DEFAULT 0,
		category_hierarchy  TEXT NOT NULL DEFAULT '{}',
		space_id            INTEGER NOT NULL DEFAULT 0,
		warranty_id         INTEGER NOT NULL DEFAULT 0,
		fingerprint         TEXT NOT NULL UNIQUE,
		import_batch        TEXT NOT NULL DEFAULT '',
		created_at          TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS assets_import_batch_idx ON assets (import_batch)`,
	`CREATE TABLE IF NOT EXISTS spaces (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		asset_id       INTEGER NOT NULL REFERENCES assets (id),
		data_center    TEXT NOT NULL DEFAULT '',
		room           TEXT NOT NULL DEFAULT '',
		cabinet        TEXT NOT NULL DEFAULT '',
		u_position     TEXT NOT NULL DEFAULT '',
		location_path  TEXT NOT NULL DEFAULT '',
		is_current     BOOLEAN NOT NULL DEFAULT 1,
		valid_from     TIMESTAMP NOT NULL,
		valid_to       TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS change_traces (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		asset_id     INTEGER NOT NULL REFERENCES assets (id),
		change_type  TEXT NOT NULL,
		delta        TEXT NOT NULL DEFAULT '{}',
		operated_by  TEXT NOT NULL,
		operated_at  TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS change_traces_asset_idx ON change_traces (asset_id)`,
}

func (d Dialect) schema() []string {
	if d == SQLite {
		return sqliteSchema
	}
	return postgresSchema
}
