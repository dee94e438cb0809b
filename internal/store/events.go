package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/brian-mwirigi/codesession/internal/session"
)

// Totals is the recomputed AI spend for a session after a usage write.
type Totals struct {
	Cost   float64 `json:"cost"`
	Tokens int64   `json:"tokens"`
}

// requireActive fails unless session id exists and is active. Observer
// writes that race with session end are rejected here.
func requireActive(ctx context.Context, tx *sql.Tx, id int64) error {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return session.NotFound("session %d not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if session.Status(status) != session.StatusActive {
		return session.InvalidInput("session %d is not active", id)
	}
	return nil
}

func (s *Store) stamp(t time.Time) string {
	if t.IsZero() {
		t = s.now()
	}
	return formatTime(t)
}

// RecordFileChange appends a file-change event and recomputes the session's
// distinct-path count in the same transaction, so duplicate or out-of-order
// deliveries from concurrent writers always converge on the true count.
func (s *Store) RecordFileChange(ctx context.Context, sessionID int64, path string, kind session.ChangeKind, at time.Time) error {
	if path == "" {
		return session.InvalidInput("file path must not be empty")
	}
	if !kind.Valid() {
		return session.InvalidInput("unknown change kind %q", kind)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireActive(ctx, tx, sessionID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO file_changes (session_id, file_path, change_type, timestamp) VALUES (?, ?, ?, ?)`,
			sessionID, path, string(kind), s.stamp(at)); err != nil {
			return fmt.Errorf("failed to insert file change: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET files_changed = (SELECT COUNT(DISTINCT file_path) FROM file_changes WHERE session_id = ?)
			WHERE id = ?`, sessionID, sessionID); err != nil {
			return fmt.Errorf("failed to update file count: %w", err)
		}
		return nil
	})
}

// RecordCommit appends a commit event and recomputes the commit count.
func (s *Store) RecordCommit(ctx context.Context, sessionID int64, hash, message string, at time.Time) error {
	if hash == "" {
		return session.InvalidInput("commit hash must not be empty")
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireActive(ctx, tx, sessionID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO commits (session_id, hash, message, timestamp) VALUES (?, ?, ?, ?)`,
			sessionID, hash, message, s.stamp(at)); err != nil {
			return fmt.Errorf("failed to insert commit: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET commits = (SELECT COUNT(*) FROM commits WHERE session_id = ?)
			WHERE id = ?`, sessionID, sessionID); err != nil {
			return fmt.Errorf("failed to update commit count: %w", err)
		}
		return nil
	})
}

// UsageOption adjusts a RecordAIUsage call.
type UsageOption func(*usageOptions)

type usageOptions struct {
	ceiling *float64
}

// WithCeiling rejects the write with session.ErrBudgetExceeded when the
// session's spend plus this event's cost would exceed ceiling. The check
// runs inside the write transaction, before the insert.
func WithCeiling(ceiling float64) UsageOption {
	return func(o *usageOptions) { o.ceiling = &ceiling }
}

// RecordAIUsage appends an AI-usage event and recomputes cumulative cost and
// tokens as sums over the event table, rounding cost to session.CostScale
// places. Nothing is written when a ceiling check fails.
func (s *Store) RecordAIUsage(ctx context.Context, u session.AIUsage, opts ...UsageOption) (Totals, error) {
	var o usageOptions
	for _, opt := range opts {
		opt(&o)
	}
	if u.Tokens < 0 || u.Cost < 0 {
		return Totals{}, session.InvalidInput("tokens and cost must not be negative")
	}
	if strings.TrimSpace(u.Model) == "" {
		return Totals{}, session.InvalidInput("model must not be empty")
	}

	var totals Totals
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireActive(ctx, tx, u.SessionID); err != nil {
			return err
		}

		if o.ceiling != nil {
			spent, _, err := sumUsage(ctx, tx, u.SessionID)
			if err != nil {
				return err
			}
			if session.RoundCost(spent+u.Cost) > session.RoundCost(*o.ceiling) {
				return session.BudgetExceeded(spent, *o.ceiling, u.Cost)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ai_usage (session_id, provider, model, tokens, prompt_tokens, completion_tokens, cost, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			u.SessionID, u.Provider, u.Model, u.Tokens,
			nullInt64(u.PromptTokens), nullInt64(u.CompletionTokens),
			u.Cost, s.stamp(u.Timestamp)); err != nil {
			return fmt.Errorf("failed to insert ai usage: %w", err)
		}

		cost, tokens, err := sumUsage(ctx, tx, u.SessionID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET ai_cost = ?, ai_tokens = ? WHERE id = ?`,
			cost, tokens, u.SessionID); err != nil {
			return fmt.Errorf("failed to update ai totals: %w", err)
		}
		totals = Totals{Cost: cost, Tokens: tokens}
		return nil
	})
	return totals, err
}

func sumUsage(ctx context.Context, tx *sql.Tx, sessionID int64) (float64, int64, error) {
	var (
		cost   float64
		tokens int64
	)
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost), 0), COALESCE(SUM(tokens), 0) FROM ai_usage WHERE session_id = ?`,
		sessionID).Scan(&cost, &tokens)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum ai usage: %w", err)
	}
	return session.RoundCost(cost), tokens, nil
}

// Spent returns the session's recorded AI spend, read from the event table.
func (s *Store) Spent(ctx context.Context, sessionID int64) (float64, error) {
	var cost float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost), 0) FROM ai_usage WHERE session_id = ?`, sessionID).Scan(&cost)
	if err != nil {
		return 0, fmt.Errorf("failed to sum ai usage: %w", err)
	}
	return session.RoundCost(cost), nil
}

// AddNote appends a note to a session. Notes may be added to completed
// sessions too.
func (s *Store) AddNote(ctx context.Context, sessionID int64, message string, at time.Time) (*session.Note, error) {
	if strings.TrimSpace(message) == "" {
		return nil, session.InvalidInput("note must not be empty")
	}
	var note *session.Note
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getSession(ctx, tx, sessionID); err != nil {
			return err
		}
		ts := s.stamp(at)
		res, err := tx.ExecContext(ctx,
			`INSERT INTO notes (session_id, message, timestamp) VALUES (?, ?, ?)`,
			sessionID, message, ts)
		if err != nil {
			return fmt.Errorf("failed to insert note: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		parsed, _ := parseTime(ts)
		note = &session.Note{ID: id, SessionID: sessionID, Message: message, Timestamp: parsed}
		return nil
	})
	return note, err
}

// Detail loads a session with all of its events.
func (s *Store) Detail(ctx context.Context, id int64) (*session.Detail, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &session.Detail{Session: *sess}
	if d.FileChanges, err = s.fileChanges(ctx, id); err != nil {
		return nil, err
	}
	if d.Commits, err = s.commits(ctx, id); err != nil {
		return nil, err
	}
	if d.AIUsage, err = s.aiUsage(ctx, id); err != nil {
		return nil, err
	}
	if d.Notes, err = s.notes(ctx, id); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) fileChanges(ctx context.Context, id int64) ([]session.FileChange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, file_path, change_type, timestamp FROM file_changes WHERE session_id = ? ORDER BY timestamp, id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query file changes: %w", err)
	}
	defer rows.Close()

	out := []session.FileChange{}
	for rows.Next() {
		var (
			fc   session.FileChange
			kind string
			ts   string
		)
		if err := rows.Scan(&fc.ID, &fc.SessionID, &fc.Path, &kind, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan file change: %w", err)
		}
		fc.Kind = session.ChangeKind(kind)
		if fc.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, fc)
	}
	return out, rows.Err()
}

func (s *Store) commits(ctx context.Context, id int64) ([]session.Commit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, hash, message, timestamp FROM commits WHERE session_id = ? ORDER BY timestamp, id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query commits: %w", err)
	}
	defer rows.Close()

	out := []session.Commit{}
	for rows.Next() {
		var (
			c  session.Commit
			ts string
		)
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Hash, &c.Message, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan commit: %w", err)
		}
		if c.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) aiUsage(ctx context.Context, id int64) ([]session.AIUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, provider, model, tokens, prompt_tokens, completion_tokens, cost, timestamp
		FROM ai_usage WHERE session_id = ? ORDER BY timestamp, id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query ai usage: %w", err)
	}
	defer rows.Close()

	out := []session.AIUsage{}
	for rows.Next() {
		var (
			u                  session.AIUsage
			prompt, completion sql.NullInt64
			ts                 string
		)
		if err := rows.Scan(&u.ID, &u.SessionID, &u.Provider, &u.Model, &u.Tokens,
			&prompt, &completion, &u.Cost, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan ai usage: %w", err)
		}
		if prompt.Valid {
			u.PromptTokens = session.Int64(prompt.Int64)
		}
		if completion.Valid {
			u.CompletionTokens = session.Int64(completion.Int64)
		}
		u.Cost = session.RoundCost(u.Cost)
		if u.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) notes(ctx context.Context, id int64) ([]session.Note, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, message, timestamp FROM notes WHERE session_id = ? ORDER BY timestamp, id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	out := []session.Note{}
	for rows.Next() {
		var (
			n  session.Note
			ts string
		)
		if err := rows.Scan(&n.ID, &n.SessionID, &n.Message, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		if n.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
