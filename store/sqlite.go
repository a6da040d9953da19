package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"
)

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	username  TEXT NOT NULL PRIMARY KEY,
	last_seen INTEGER NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	sender      TEXT NOT NULL,
	receiver    TEXT NOT NULL,
	body        TEXT NOT NULL,
	tag         TEXT NULL,
	create_time INTEGER NOT NULL,
	read_state  INTEGER NOT NULL DEFAULT 0,
	reactions   TEXT NULL,
	edited      INTEGER NOT NULL DEFAULT 0,
	edit_time   INTEGER NULL,
	deleted     INTEGER NOT NULL DEFAULT 0,
	deleted_by  TEXT NULL
);
CREATE INDEX IF NOT EXISTS idx_pair ON messages (sender, receiver, create_time);`

const sqliteUpsertUserSQL = "INSERT INTO users (username, last_seen) VALUES (?,?) " +
	"ON CONFLICT(username) DO UPDATE SET last_seen = excluded.last_seen"

// NewSQLiteStore opens (creating if needed) a SQLite backed store.
func NewSQLiteStore(ctx context.Context, dbPath string) (Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	// SQLite serializes writers; more connections just means lock contention.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := &sqlStore{
		DB: db,
		dialect: dialect{
			name:          "sqlite",
			schemaSQL:     sqliteSchemaSQL,
			upsertUserSQL: sqliteUpsertUserSQL,
			isDupKey: func(err error) bool {
				if val, ok := err.(sqlite3.Error); ok {
					return val.Code == sqlite3.ErrConstraint
				}
				return false
			},
		},
	}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
