package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brian-mwirigi/codesession/internal/session"
)

// NewSession holds the fields supplied when a session row is created.
type NewSession struct {
	Name      string
	StartTime time.Time
	WorkDir   string
	RepoRoot  string
	GitBranch string
	GitHead   string
}

// ListFilter narrows ListSessions.
type ListFilter struct {
	Status session.Status // empty = any
	Search string         // substring of name, working dir, repo root or notes
	Limit  int            // 0 = no limit
	Offset int
}

const sessionColumns = `id, name, start_time, end_time, duration, working_dir,
	COALESCE(repo_root, ''), COALESCE(git_branch, ''), COALESCE(git_head, ''),
	files_changed, commits, ai_cost, ai_tokens, notes, status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*session.Session, error) {
	var (
		s      session.Session
		start  string
		end    sql.NullString
		status string
	)
	err := r.Scan(&s.ID, &s.Name, &start, &end, &s.Duration, &s.WorkDir,
		&s.RepoRoot, &s.GitBranch, &s.GitHead,
		&s.FileCount, &s.Commits, &s.AICost, &s.AITokens, &s.Notes, &status)
	if err != nil {
		return nil, err
	}
	if s.StartTime, err = parseTime(start); err != nil {
		return nil, err
	}
	if end.Valid {
		t, err := parseTime(end.String)
		if err != nil {
			return nil, err
		}
		s.EndTime = &t
	}
	s.Status = session.Status(status)
	s.AICost = session.RoundCost(s.AICost)
	return &s, nil
}

func scanSessions(rows *sql.Rows) ([]session.Session, error) {
	defer rows.Close()
	var out []session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// CreateSession inserts an active session and returns its store-assigned id.
// It does not enforce one active session per directory; that policy lives in
// the lifecycle controller.
func (s *Store) CreateSession(ctx context.Context, ns NewSession) (int64, error) {
	if strings.TrimSpace(ns.Name) == "" {
		return 0, session.InvalidInput("session name must not be empty")
	}
	if ns.StartTime.IsZero() {
		ns.StartTime = s.now()
	}
	return insertSession(ctx, s.db, ns)
}

// StartInSlot creates ns unless its slot already holds an active session,
// in which case it returns session.ErrAlreadyActive carrying that session.
// The check and the insert share one immediate transaction, so concurrent
// starters in the same slot cannot both succeed.
func (s *Store) StartInSlot(ctx context.Context, ns NewSession) (int64, error) {
	if strings.TrimSpace(ns.Name) == "" {
		return 0, session.InvalidInput("session name must not be empty")
	}
	if ns.StartTime.IsZero() {
		ns.StartTime = s.now()
	}
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		active, err := activeInSlot(ctx, tx, ns.WorkDir, ns.RepoRoot)
		if err != nil {
			return err
		}
		if len(active) > 0 {
			return session.AlreadyActive(&active[0])
		}
		id, err = insertSession(ctx, tx, ns)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSession(ctx context.Context, e execer, ns NewSession) (int64, error) {
	res, err := e.ExecContext(ctx, `
		INSERT INTO sessions (name, start_time, working_dir, repo_root, git_branch, git_head, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ns.Name, formatTime(ns.StartTime), ns.WorkDir,
		nullString(ns.RepoRoot), nullString(ns.GitBranch), nullString(ns.GitHead),
		string(session.StatusActive))
	if err != nil {
		return 0, fmt.Errorf("failed to insert session: %w", err)
	}
	return res.LastInsertId()
}

// EndSession marks an active session completed. Duration is end minus start
// clamped to [0, session.MaxDuration]; notes, if given, are appended to any
// existing notes. Ending an unknown session returns session.ErrNotFound and
// ending a completed one returns session.ErrInvalidInput.
func (s *Store) EndSession(ctx context.Context, id int64, end time.Time, notes string) (*session.Session, error) {
	var ended *session.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := getSession(ctx, tx, id)
		if err != nil {
			return err
		}
		if !cur.Active() {
			return session.InvalidInput("session %d already ended", id)
		}

		dur := session.ClampDuration(end.Sub(cur.StartTime))
		merged := cur.Notes
		if n := strings.TrimSpace(notes); n != "" {
			if merged != "" {
				merged += "\n"
			}
			merged += n
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE sessions SET end_time = ?, duration = ?, notes = ?, status = ?
			WHERE id = ? AND status = ?`,
			formatTime(end), int64(dur/time.Second), merged, string(session.StatusCompleted),
			id, string(session.StatusActive))
		if err != nil {
			return fmt.Errorf("failed to end session: %w", err)
		}
		ended, err = getSession(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ended, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getSession(ctx context.Context, q queryRower, id int64) (*session.Session, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.NotFound("session %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// GetSession returns one session by id.
func (s *Store) GetSession(ctx context.Context, id int64) (*session.Session, error) {
	return getSession(ctx, s.db, id)
}

// ActiveSessions returns every active session, newest first.
func (s *Store) ActiveSessions(ctx context.Context) ([]session.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE status = ? ORDER BY start_time DESC, id DESC`,
		string(session.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	return scanSessions(rows)
}

// ActiveInSlot returns active sessions belonging to dir or repoRoot: a
// session matches when its working directory or its repository root equals
// either value. Newest first.
func (s *Store) ActiveInSlot(ctx context.Context, dir, repoRoot string) ([]session.Session, error) {
	return activeInSlot(ctx, s.db, dir, repoRoot)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func activeInSlot(ctx context.Context, q querier, dir, repoRoot string) ([]session.Session, error) {
	if repoRoot == "" {
		repoRoot = dir
	}
	rows, err := q.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = ?
		  AND (working_dir IN (?, ?) OR repo_root IN (?, ?))
		ORDER BY start_time DESC, id DESC`,
		string(session.StatusActive), dir, repoRoot, dir, repoRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	return scanSessions(rows)
}

// StaleSessions returns active sessions started before cutoff, oldest first.
func (s *Store) StaleSessions(ctx context.Context, cutoff time.Time) ([]session.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = ? AND start_time < ?
		ORDER BY start_time ASC, id ASC`,
		string(session.StatusActive), formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to query stale sessions: %w", err)
	}
	return scanSessions(rows)
}

// ListSessions returns a page of sessions, newest first, and the total number
// of sessions matching the filter.
func (s *Store) ListSessions(ctx context.Context, f ListFilter) ([]session.Session, int64, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		like := "%" + escapeLike(q) + "%"
		where = append(where, `(name LIKE ? ESCAPE '\' OR working_dir LIKE ? ESCAPE '\'
			OR COALESCE(repo_root, '') LIKE ? ESCAPE '\' OR notes LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like, like)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions` + clause + ` ORDER BY start_time DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	} else if f.Offset > 0 {
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, f.Offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query sessions: %w", err)
	}
	sessions, err := scanSessions(rows)
	return sessions, total, err
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
