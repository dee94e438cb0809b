package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/brian-mwirigi/codesession/internal/session"
)

// Stats are rollups over completed sessions only.
type Stats struct {
	TotalSessions int64   `json:"total_sessions"`
	TotalDuration int64   `json:"total_duration_seconds"`
	AvgDuration   float64 `json:"avg_duration_seconds"`
	TotalFiles    int64   `json:"total_files_changed"`
	TotalCommits  int64   `json:"total_commits"`
	TotalCost     float64 `json:"total_ai_cost"`
	AvgCost       float64 `json:"avg_ai_cost"`
	TotalTokens   int64   `json:"total_ai_tokens"`
}

// GetStats aggregates completed sessions.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(duration), 0),
		       COALESCE(AVG(duration), 0),
		       COALESCE(SUM(files_changed), 0),
		       COALESCE(SUM(commits), 0),
		       COALESCE(SUM(ai_cost), 0),
		       COALESCE(AVG(ai_cost), 0),
		       COALESCE(SUM(ai_tokens), 0)
		FROM sessions WHERE status = ?`, string(session.StatusCompleted)).Scan(
		&st.TotalSessions, &st.TotalDuration, &st.AvgDuration, &st.TotalFiles,
		&st.TotalCommits, &st.TotalCost, &st.AvgCost, &st.TotalTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	st.TotalCost = session.RoundCost(st.TotalCost)
	st.AvgCost = session.RoundCost(st.AvgCost)
	return &st, nil
}

// DailyPoint is one day of AI spend. Days are UTC calendar days.
type DailyPoint struct {
	Day      string  `json:"day"`
	Cost     float64 `json:"cost"`
	Tokens   int64   `json:"tokens"`
	Sessions int64   `json:"sessions"`
	Calls    int64   `json:"calls"`
}

// DailyCost returns per-day cost and token totals for the last days days,
// oldest first. Days without usage are omitted.
func (s *Store) DailyCost(ctx context.Context, days int) ([]DailyPoint, error) {
	if days <= 0 {
		days = 30
	}
	since := s.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -(days - 1))
	rows, err := s.db.QueryContext(ctx, `
		SELECT substr(timestamp, 1, 10) AS day,
		       COALESCE(SUM(cost), 0), COALESCE(SUM(tokens), 0),
		       COUNT(DISTINCT session_id), COUNT(*)
		FROM ai_usage
		WHERE timestamp >= ?
		GROUP BY day
		ORDER BY day`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily cost: %w", err)
	}
	defer rows.Close()

	out := []DailyPoint{}
	for rows.Next() {
		var p DailyPoint
		if err := rows.Scan(&p.Day, &p.Cost, &p.Tokens, &p.Sessions, &p.Calls); err != nil {
			return nil, err
		}
		p.Cost = session.RoundCost(p.Cost)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ModelUsage is spend grouped by provider and model.
type ModelUsage struct {
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	Calls            int64   `json:"calls"`
	Tokens           int64   `json:"tokens"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
}

// ModelBreakdown returns usage per (provider, model), most expensive first.
func (s *Store) ModelBreakdown(ctx context.Context) ([]ModelUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, model, COUNT(*), COALESCE(SUM(tokens), 0),
		       COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(cost), 0)
		FROM ai_usage
		GROUP BY provider, model
		ORDER BY SUM(cost) DESC, provider, model`)
	if err != nil {
		return nil, fmt.Errorf("failed to query model breakdown: %w", err)
	}
	defer rows.Close()

	out := []ModelUsage{}
	for rows.Next() {
		var m ModelUsage
		if err := rows.Scan(&m.Provider, &m.Model, &m.Calls, &m.Tokens,
			&m.PromptTokens, &m.CompletionTokens, &m.Cost); err != nil {
			return nil, err
		}
		m.Cost = session.RoundCost(m.Cost)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ProviderUsage is spend grouped by provider.
type ProviderUsage struct {
	Provider string  `json:"provider"`
	Calls    int64   `json:"calls"`
	Tokens   int64   `json:"tokens"`
	Cost     float64 `json:"cost"`
	Models   int64   `json:"models"`
}

// ProviderBreakdown returns usage per provider, most expensive first.
func (s *Store) ProviderBreakdown(ctx context.Context) ([]ProviderUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, COUNT(*), COALESCE(SUM(tokens), 0), COALESCE(SUM(cost), 0), COUNT(DISTINCT model)
		FROM ai_usage
		GROUP BY provider
		ORDER BY SUM(cost) DESC, provider`)
	if err != nil {
		return nil, fmt.Errorf("failed to query provider breakdown: %w", err)
	}
	defer rows.Close()

	out := []ProviderUsage{}
	for rows.Next() {
		var p ProviderUsage
		if err := rows.Scan(&p.Provider, &p.Calls, &p.Tokens, &p.Cost, &p.Models); err != nil {
			return nil, err
		}
		p.Cost = session.RoundCost(p.Cost)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Hotspot is a file ranked by how often it changed.
type Hotspot struct {
	Path     string `json:"path"`
	Changes  int64  `json:"changes"`
	Sessions int64  `json:"sessions"`
}

// FileHotspots returns the most frequently changed files.
func (s *Store) FileHotspots(ctx context.Context, limit int) ([]Hotspot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_path, COUNT(*), COUNT(DISTINCT session_id)
		FROM file_changes
		GROUP BY file_path
		ORDER BY COUNT(*) DESC, file_path
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query hotspots: %w", err)
	}
	defer rows.Close()

	out := []Hotspot{}
	for rows.Next() {
		var h Hotspot
		if err := rows.Scan(&h.Path, &h.Changes, &h.Sessions); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// HeatmapCell counts sessions started in one weekday/hour bucket (UTC,
// weekday 0 = Sunday).
type HeatmapCell struct {
	Weekday  int   `json:"weekday"`
	Hour     int   `json:"hour"`
	Sessions int64 `json:"sessions"`
	Seconds  int64 `json:"duration_seconds"`
}

// ActivityHeatmap buckets sessions by weekday and hour of their start time.
func (s *Store) ActivityHeatmap(ctx context.Context) ([]HeatmapCell, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT CAST(strftime('%w', start_time) AS INTEGER) AS wd,
		       CAST(strftime('%H', start_time) AS INTEGER) AS hr,
		       COUNT(*), COALESCE(SUM(duration), 0)
		FROM sessions
		GROUP BY wd, hr
		ORDER BY wd, hr`)
	if err != nil {
		return nil, fmt.Errorf("failed to query heatmap: %w", err)
	}
	defer rows.Close()

	out := []HeatmapCell{}
	for rows.Next() {
		var c HeatmapCell
		if err := rows.Scan(&c.Weekday, &c.Hour, &c.Sessions, &c.Seconds); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ProjectRollup aggregates sessions by project: the repository root when
// one was recorded, else the working directory.
type ProjectRollup struct {
	Project    string    `json:"project"`
	Sessions   int64     `json:"sessions"`
	Duration   int64     `json:"duration_seconds"`
	Files      int64     `json:"files_changed"`
	Commits    int64     `json:"commits"`
	Cost       float64   `json:"ai_cost"`
	Tokens     int64     `json:"ai_tokens"`
	LastActive time.Time `json:"last_active"`
}

// Projects returns per-project rollups, most recently active first.
func (s *Store) Projects(ctx context.Context) ([]ProjectRollup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(NULLIF(repo_root, ''), working_dir) AS project,
		       COUNT(*), COALESCE(SUM(duration), 0), COALESCE(SUM(files_changed), 0),
		       COALESCE(SUM(commits), 0), COALESCE(SUM(ai_cost), 0), COALESCE(SUM(ai_tokens), 0),
		       MAX(start_time)
		FROM sessions
		GROUP BY project
		ORDER BY MAX(start_time) DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	out := []ProjectRollup{}
	for rows.Next() {
		var (
			p    ProjectRollup
			last string
		)
		if err := rows.Scan(&p.Project, &p.Sessions, &p.Duration, &p.Files, &p.Commits,
			&p.Cost, &p.Tokens, &last); err != nil {
			return nil, err
		}
		p.Cost = session.RoundCost(p.Cost)
		if p.LastActive, err = parseTime(last); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TokenRatio is the prompt:completion ratio for one model, computed only
// from usage rows that carried an explicit split.
type TokenRatio struct {
	Model            string  `json:"model"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	Ratio            float64 `json:"ratio"`
}

// TokenRatios returns prompt:completion ratios by model. Ratio is 0 when the
// model has no completion tokens.
func (s *Store) TokenRatios(ctx context.Context) ([]TokenRatio, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model, SUM(prompt_tokens), SUM(completion_tokens)
		FROM ai_usage
		WHERE prompt_tokens IS NOT NULL AND completion_tokens IS NOT NULL
		GROUP BY model
		ORDER BY model`)
	if err != nil {
		return nil, fmt.Errorf("failed to query token ratios: %w", err)
	}
	defer rows.Close()

	out := []TokenRatio{}
	for rows.Next() {
		var (
			r                  TokenRatio
			prompt, completion sql.NullInt64
		)
		if err := rows.Scan(&r.Model, &prompt, &completion); err != nil {
			return nil, err
		}
		r.PromptTokens, r.CompletionTokens = prompt.Int64, completion.Int64
		if r.CompletionTokens > 0 {
			r.Ratio = float64(r.PromptTokens) / float64(r.CompletionTokens)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
