package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// MaxSQLVars is SQLite's parameter ceiling; bulk statements shard their
// value lists to stay under it.
const MaxSQLVars = 999

// Open opens (creating if needed) the SQLite database at path and applies
// the schema.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; a single conn avoids SQLITE_BUSY churn.
	sdb.SetMaxOpenConns(1)
	if err := sdb.PingContext(ctx); err != nil {
		_ = sdb.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := migrate(ctx, sdb); err != nil {
		_ = sdb.Close()
		return nil, err
	}
	return sdb, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	username     TEXT NOT NULL UNIQUE,
	password     TEXT NOT NULL,
	token        TEXT NOT NULL UNIQUE,
	enabled      INTEGER NOT NULL DEFAULT 1,
	permission   INTEGER NOT NULL DEFAULT 0,
	timestamp    INTEGER NOT NULL,
	registration INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS albums (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	name           TEXT NOT NULL,
	identifier     TEXT NOT NULL UNIQUE,
	userid         INTEGER NOT NULL,
	enabled        INTEGER NOT NULL DEFAULT 1,
	public         INTEGER NOT NULL DEFAULT 1,
	download       INTEGER NOT NULL DEFAULT 1,
	description    TEXT NOT NULL DEFAULT '',
	timestamp      INTEGER NOT NULL,
	editedAt       INTEGER NOT NULL,
	zipGeneratedAt INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS files (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL UNIQUE,
	original   TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL DEFAULT 'application/octet-stream',
	size       INTEGER NOT NULL,
	hash       TEXT NOT NULL DEFAULT '',
	ip         TEXT,
	userid     INTEGER,
	albumid    INTEGER,
	timestamp  INTEGER NOT NULL,
	expirydate INTEGER
);

CREATE INDEX IF NOT EXISTS idx_files_dedup ON files (userid, hash, size);
CREATE INDEX IF NOT EXISTS idx_files_album ON files (albumid);
CREATE INDEX IF NOT EXISTS idx_files_expiry ON files (expirydate) WHERE expirydate IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_albums_user ON albums (userid, enabled);
`

func migrate(ctx context.Context, sdb *sql.DB) error {
	if _, err := sdb.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
