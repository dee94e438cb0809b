package store

import (
	"context"
	"fmt"
	"strings"
)

// Schema is the base schema. Columns introduced after the first release are
// added by columnMigrations so existing databases upgrade in place.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT    NOT NULL,
	start_time    TEXT    NOT NULL,
	end_time      TEXT,
	duration      INTEGER NOT NULL DEFAULT 0,
	working_dir   TEXT    NOT NULL,
	files_changed INTEGER NOT NULL DEFAULT 0,
	commits       INTEGER NOT NULL DEFAULT 0,
	ai_cost       REAL    NOT NULL DEFAULT 0,
	ai_tokens     INTEGER NOT NULL DEFAULT 0,
	notes         TEXT    NOT NULL DEFAULT '',
	status        TEXT    NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS file_changes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	file_path   TEXT    NOT NULL,
	change_type TEXT    NOT NULL,
	timestamp   TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS commits (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	hash       TEXT    NOT NULL,
	message    TEXT    NOT NULL DEFAULT '',
	timestamp  TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS ai_usage (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	provider   TEXT    NOT NULL,
	model      TEXT    NOT NULL,
	tokens     INTEGER NOT NULL,
	cost       REAL    NOT NULL,
	timestamp  TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS notes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	message    TEXT    NOT NULL,
	timestamp  TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_working_dir ON sessions(working_dir);
CREATE INDEX IF NOT EXISTS idx_sessions_start_time ON sessions(start_time);
CREATE INDEX IF NOT EXISTS idx_file_changes_session ON file_changes(session_id);
CREATE INDEX IF NOT EXISTS idx_commits_session ON commits(session_id);
CREATE INDEX IF NOT EXISTS idx_ai_usage_session ON ai_usage(session_id);
CREATE INDEX IF NOT EXISTS idx_notes_session ON notes(session_id);
`

type columnMigration struct {
	table  string
	column string
	decl   string
}

var columnMigrations = []columnMigration{
	{"sessions", "repo_root", "TEXT"},
	{"sessions", "git_branch", "TEXT"},
	{"sessions", "git_head", "TEXT"},
	{"ai_usage", "prompt_tokens", "INTEGER"},
	{"ai_usage", "completion_tokens", "INTEGER"},
}

// postMigrationIndexes reference migrated columns, so they run last.
const postMigrationIndexes = `
CREATE INDEX IF NOT EXISTS idx_sessions_repo_root ON sessions(repo_root);
`

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return err
	}
	for _, m := range columnMigrations {
		if err := s.addColumn(ctx, m.table, m.column, m.decl); err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx, postMigrationIndexes)
	return err
}

// addColumn adds table.column if it is missing. Adding a column that already
// exists is a no-op, including when another process wins the race.
func (s *Store) addColumn(ctx context.Context, table, column, decl string) error {
	exists, err := s.hasColumn(ctx, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
		return nil
	}
	if err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	s.logger.Debug("migrated column", "table", table, "column", column)
	return nil
}

func (s *Store) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}
