package kvstore

// Schema for SQLite. Values are raw bytes; text records carry their charset
// in content_type.
const Schema = `
CREATE TABLE IF NOT EXISTS kv_stores (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS kv_records (
	store_id     TEXT NOT NULL REFERENCES kv_stores(id) ON DELETE CASCADE,
	key          TEXT NOT NULL,
	value        BLOB NOT NULL,
	content_type TEXT NOT NULL,
	updated_at   INTEGER NOT NULL,
	PRIMARY KEY (store_id, key)
);
`

// SchemaPostgres is Schema with Postgres column types.
const SchemaPostgres = `
CREATE TABLE IF NOT EXISTS kv_stores (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS kv_records (
	store_id     TEXT NOT NULL REFERENCES kv_stores(id) ON DELETE CASCADE,
	key          TEXT NOT NULL,
	value        BYTEA NOT NULL,
	content_type TEXT NOT NULL,
	updated_at   BIGINT NOT NULL,
	PRIMARY KEY (store_id, key)
);
`
