package session

import (
	"math"
	"time"
)

// Status is the lifecycle state of a session row.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// MaxDuration caps a stored session duration. Anything longer is treated as
// clock skew or a corrupted start timestamp.
const MaxDuration = 365 * 24 * time.Hour

// CostScale is the number of decimal places cost values are rounded to,
// both when written and when read back.
const CostScale = 10

// Session represents one tracked unit of work.
type Session struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Duration  int64      `json:"duration_seconds"`
	WorkDir   string     `json:"work_dir"`
	RepoRoot  string     `json:"repo_root,omitempty"`
	GitBranch string     `json:"git_branch,omitempty"`
	GitHead   string     `json:"git_head,omitempty"`
	FileCount int64      `json:"files_changed"`
	Commits   int64      `json:"commits"`
	AICost    float64    `json:"ai_cost"`
	AITokens  int64      `json:"ai_tokens"`
	Notes     string     `json:"notes,omitempty"`
	Status    Status     `json:"status"`
}

// Active reports whether the session has not been ended yet.
func (s *Session) Active() bool {
	return s.Status == StatusActive
}

// Slot returns the directory that scopes this session against others:
// the repository root when known, else the working directory.
func (s *Session) Slot() string {
	if s.RepoRoot != "" {
		return s.RepoRoot
	}
	return s.WorkDir
}

// Elapsed returns the wall-clock time the session has been running, or its
// final duration once completed.
func (s *Session) Elapsed(now time.Time) time.Duration {
	if s.EndTime != nil {
		return time.Duration(s.Duration) * time.Second
	}
	return ClampDuration(now.Sub(s.StartTime))
}

// ChangeKind classifies a file-change event.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// Valid reports whether k is one of the known change kinds.
func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeCreated, ChangeModified, ChangeDeleted:
		return true
	}
	return false
}

// FileChange records a single file-change event. Path is relative to the
// session's working directory.
type FileChange struct {
	ID        int64      `json:"id"`
	SessionID int64      `json:"session_id"`
	Path      string     `json:"path"`
	Kind      ChangeKind `json:"kind"`
	Timestamp time.Time  `json:"timestamp"`
}

// Commit records a version-control commit observed during a session.
type Commit struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id"`
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// AIUsage records one AI-assistant call. PromptTokens and CompletionTokens
// are optional; nil means the caller did not supply a split, which is
// different from an explicit zero.
type AIUsage struct {
	ID               int64     `json:"id"`
	SessionID        int64     `json:"session_id"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	Tokens           int64     `json:"tokens"`
	PromptTokens     *int64    `json:"prompt_tokens,omitempty"`
	CompletionTokens *int64    `json:"completion_tokens,omitempty"`
	Cost             float64   `json:"cost"`
	Timestamp        time.Time `json:"timestamp"`
}

// Note is a free-text annotation attached to a session.
type Note struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Detail is a session together with its full event history.
type Detail struct {
	Session     Session      `json:"session"`
	FileChanges []FileChange `json:"file_changes"`
	Commits     []Commit     `json:"commits"`
	AIUsage     []AIUsage    `json:"ai_usage"`
	Notes       []Note       `json:"notes"`
}

// RoundCost rounds a cost to CostScale decimal places.
func RoundCost(c float64) float64 {
	const scale = 1e10
	return math.Round(c*scale) / scale
}

// ClampDuration bounds d to [0, MaxDuration].
func ClampDuration(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > MaxDuration {
		return MaxDuration
	}
	return d
}

// Int64 returns a pointer to v. Handy for the optional token fields.
func Int64(v int64) *int64 {
	return &v
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 {
	return &v
}
