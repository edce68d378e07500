package store

const schemaSQL = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
	path        TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	size        INTEGER NOT NULL,
	language    TEXT NOT NULL DEFAULT '',
	indexed_at  INTEGER NOT NULL,
	truncated   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	path       TEXT NOT NULL,
	ordinal    INTEGER NOT NULL,
	start_byte INTEGER NOT NULL,
	end_byte   INTEGER NOT NULL,
	start_line INTEGER NOT NULL,
	end_line   INTEGER NOT NULL,
	content    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_path ON documents(path, ordinal);

CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
	doc_id UNINDEXED,
	path_tokens,
	name_tokens,
	content_tokens,
	tokenize='unicode61'
);

CREATE VIRTUAL TABLE IF NOT EXISTS documents_vocab USING fts5vocab(documents_fts, row);

CREATE TABLE IF NOT EXISTS symbols (
	id          TEXT PRIMARY KEY,
	parent_id   TEXT NOT NULL DEFAULT '',
	name        TEXT NOT NULL,
	kind        TEXT NOT NULL,
	path        TEXT NOT NULL,
	language    TEXT NOT NULL,
	start_byte  INTEGER NOT NULL,
	end_byte    INTEGER NOT NULL,
	start_line  INTEGER NOT NULL,
	end_line    INTEGER NOT NULL,
	preview     TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	doc_id      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
CREATE INDEX IF NOT EXISTS idx_symbols_path ON symbols(path, start_line);

CREATE TABLE IF NOT EXISTS edges (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id   TEXT NOT NULL DEFAULT '',
	target_name TEXT NOT NULL,
	target_id   TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL,
	path        TEXT NOT NULL,
	line        INTEGER NOT NULL,
	col         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_name, kind);
CREATE INDEX IF NOT EXISTS idx_edges_target_id ON edges(target_id);
CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id);
CREATE INDEX IF NOT EXISTS idx_edges_path ON edges(path);

CREATE TABLE IF NOT EXISTS embeddings (
	symbol_id   TEXT NOT NULL,
	provider    TEXT NOT NULL,
	model       TEXT NOT NULL,
	dims        INTEGER NOT NULL,
	vector      BLOB NOT NULL,
	fingerprint TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	PRIMARY KEY (symbol_id, provider, model)
);
`
