// Package lifecycle orchestrates session start, resume, close-stale, end
// and recovery. Sessions are scoped by slot, the repository root when the
// directory is inside one and the directory itself otherwise, so sessions
// in different projects never collide.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/brian-mwirigi/codesession/internal/collector"
	"github.com/brian-mwirigi/codesession/internal/ledger"
	"github.com/brian-mwirigi/codesession/internal/session"
	"github.com/brian-mwirigi/codesession/internal/store"
	"github.com/brian-mwirigi/codesession/internal/tracker"
)

// Notes appended on automatic transitions.
const (
	NoteAutoClosed    = "[auto-closed: superseded by new session]"
	NoteAutoRecovered = "[auto-recovered: stale session]"
	NoteBudgetReached = "[auto-ended: budget ceiling reached]"
)

// DefaultStaleAfter is the age past which an active session counts as stale.
const DefaultStaleAfter = 24 * time.Hour

// RepoInspector is the git capability the controller needs at start.
type RepoInspector interface {
	RepoRoot(ctx context.Context, dir string) (string, error)
	CurrentBranch(ctx context.Context, repo string) (string, error)
	LatestCommit(ctx context.Context, repo string) (*collector.CommitInfo, error)
}

// Options wires a Controller.
type Options struct {
	Store    *store.Store
	Git      RepoInspector     // nil: slots are plain directories
	Registry *tracker.Registry // nil: no live tracking in this process
	Pricing  ledger.Pricing    // nil: built-in defaults
	Budget   *float64          // per-session spend ceiling
	Logger   *slog.Logger
	Now      func() time.Time
}

// Controller is the session lifecycle state machine.
type Controller struct {
	store    *store.Store
	git      RepoInspector
	registry *tracker.Registry
	ledger   *ledger.Ledger
	logger   *slog.Logger
	now      func() time.Time
}

// New returns a Controller.
func New(o Options) *Controller {
	c := &Controller{
		store:    o.Store,
		git:      o.Git,
		registry: o.Registry,
		logger:   o.Logger,
		now:      o.Now,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.ledger = ledger.New(o.Store, o.Pricing,
		ledger.WithCeiling(o.Budget),
		ledger.WithLogger(c.logger),
		ledger.WithBudgetHook(c.budgetReached),
	)
	return c
}

// Ledger returns the controller's usage ledger.
func (c *Controller) Ledger() *ledger.Ledger { return c.ledger }

// Slot identifies where a command runs.
type Slot struct {
	Dir      string `json:"dir"`
	RepoRoot string `json:"repo_root,omitempty"`
}

// Key is the directory sessions in this slot are scoped by.
func (s Slot) Key() string {
	if s.RepoRoot != "" {
		return s.RepoRoot
	}
	return s.Dir
}

// ResolveSlot makes dir absolute and finds its repository root. Any git
// failure falls back to the directory alone.
func (c *Controller) ResolveSlot(ctx context.Context, dir string) (Slot, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Slot{}, fmt.Errorf("resolve directory: %w", err)
	}
	slot := Slot{Dir: filepath.Clean(abs)}
	if c.git == nil {
		return slot, nil
	}
	root, err := c.git.RepoRoot(ctx, slot.Dir)
	if err != nil {
		c.logger.Debug("repository root lookup failed", "dir", slot.Dir, "error", err)
		return slot, nil
	}
	if root != "" {
		slot.RepoRoot = filepath.Clean(root)
	}
	return slot, nil
}

// StartOptions controls Start.
type StartOptions struct {
	Name       string
	Dir        string
	Resume     bool // reattach to the slot's active session if there is one
	CloseStale bool // end every active session before starting
	Track      bool // register file and commit observers in this process
}

// StartResult reports what Start did.
type StartResult struct {
	Session *session.Session  `json:"session"`
	Resumed bool              `json:"resumed"`
	Closed  []session.Session `json:"closed,omitempty"`
}

// Start begins a session in opts.Dir. With an active session already in the
// slot it fails with session.ErrAlreadyActive unless Resume (return that
// session) or CloseStale (end all active sessions, then start) is set.
func (c *Controller) Start(ctx context.Context, opts StartOptions) (*StartResult, error) {
	slot, err := c.ResolveSlot(ctx, opts.Dir)
	if err != nil {
		return nil, err
	}
	active, err := c.store.ActiveInSlot(ctx, slot.Dir, slot.RepoRoot)
	if err != nil {
		return nil, err
	}

	res := &StartResult{}
	if len(active) > 0 {
		switch {
		case opts.Resume:
			s := active[0]
			res.Session, res.Resumed = &s, true
			if opts.Track {
				if err := c.Track(ctx, &s); err != nil {
					return nil, err
				}
			}
			c.logger.Debug("resumed session", "session_id", s.ID, "slot", slot.Key())
			return res, nil
		case opts.CloseStale:
			if res.Closed, err = c.closeAllActive(ctx); err != nil {
				return nil, err
			}
		default:
			s := active[0]
			return nil, session.AlreadyActive(&s)
		}
	}

	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = filepath.Base(slot.Key())
	}
	ns := store.NewSession{
		Name:      name,
		StartTime: c.now(),
		WorkDir:   slot.Dir,
		RepoRoot:  slot.RepoRoot,
	}
	if slot.RepoRoot != "" {
		ns.GitBranch, ns.GitHead = c.gitState(ctx, slot.RepoRoot)
	}

	// Another process may have started in this slot since the check above.
	id, err := c.store.StartInSlot(ctx, ns)
	if err != nil {
		return nil, err
	}
	s, err := c.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	res.Session = s
	c.logger.Info("session started", "session_id", id, "slot", slot.Key())

	if opts.Track {
		if err := c.Track(ctx, s); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (c *Controller) gitState(ctx context.Context, repo string) (branch, head string) {
	branch, err := c.git.CurrentBranch(ctx, repo)
	if err != nil {
		c.logger.Debug("branch lookup failed", "repo", repo, "error", err)
	}
	commit, err := c.git.LatestCommit(ctx, repo)
	if err != nil {
		c.logger.Debug("head lookup failed", "repo", repo, "error", err)
	}
	if commit != nil {
		head = commit.Hash
	}
	return branch, head
}

func (c *Controller) closeAllActive(ctx context.Context) ([]session.Session, error) {
	active, err := c.store.ActiveSessions(ctx)
	if err != nil {
		return nil, err
	}
	var closed []session.Session
	for _, s := range active {
		ended, err := c.endSession(ctx, s.ID, NoteAutoClosed)
		if err != nil {
			if session.IsCode(err, session.CodeInvalidInput) {
				continue // ended concurrently
			}
			return closed, err
		}
		closed = append(closed, *ended)
	}
	return closed, nil
}

// Track registers s with the in-process registry. The last-seen commit is
// the newest one already recorded, else the head captured at start.
func (c *Controller) Track(ctx context.Context, s *session.Session) error {
	if c.registry == nil {
		return nil
	}
	t := tracker.TargetFor(s)
	d, err := c.store.Detail(ctx, s.ID)
	if err != nil {
		return err
	}
	if n := len(d.Commits); n > 0 {
		t.LastHash = d.Commits[n-1].Hash
	}
	return c.registry.Register(t)
}

// Active returns the newest active session in dir's slot, or
// session.ErrNotFound.
func (c *Controller) Active(ctx context.Context, dir string) (*session.Session, error) {
	slot, err := c.ResolveSlot(ctx, dir)
	if err != nil {
		return nil, err
	}
	active, err := c.store.ActiveInSlot(ctx, slot.Dir, slot.RepoRoot)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, session.NotFound("no active session in %s", slot.Key())
	}
	s := active[0]
	return &s, nil
}

// Target selects a session: by id when ID is set, else the active session
// in Dir's slot.
type Target struct {
	ID  int64
	Dir string
}

func (c *Controller) resolve(ctx context.Context, t Target) (*session.Session, error) {
	if t.ID > 0 {
		return c.store.GetSession(ctx, t.ID)
	}
	return c.Active(ctx, t.Dir)
}

// End completes the target session with notes and tears down its tracking.
func (c *Controller) End(ctx context.Context, t Target, notes string) (*session.Session, error) {
	s, err := c.resolve(ctx, t)
	if err != nil {
		return nil, err
	}
	return c.endSession(ctx, s.ID, notes)
}

func (c *Controller) endSession(ctx context.Context, id int64, notes string) (*session.Session, error) {
	ended, err := c.store.EndSession(ctx, id, c.now(), notes)
	if c.registry != nil {
		c.registry.Unregister(id)
	}
	if err != nil {
		return nil, err
	}
	c.logger.Info("session ended", "session_id", id, "duration_seconds", ended.Duration)
	return ended, nil
}

// Recover ends every active session older than maxAge with an auto-recovery
// note. Duration is measured to now and clamped as usual.
func (c *Controller) Recover(ctx context.Context, maxAge time.Duration) ([]session.Session, error) {
	if maxAge <= 0 {
		maxAge = DefaultStaleAfter
	}
	stale, err := c.store.StaleSessions(ctx, c.now().Add(-maxAge))
	if err != nil {
		return nil, err
	}
	recovered := []session.Session{}
	for _, s := range stale {
		ended, err := c.endSession(ctx, s.ID, NoteAutoRecovered)
		if err != nil {
			if session.IsCode(err, session.CodeInvalidInput) {
				continue
			}
			return recovered, err
		}
		c.logger.Warn("recovered stale session", "session_id", s.ID, "started", s.StartTime)
		recovered = append(recovered, *ended)
	}
	return recovered, nil
}

// Note attaches message to the target session.
func (c *Controller) Note(ctx context.Context, t Target, message string) (*session.Note, error) {
	s, err := c.resolve(ctx, t)
	if err != nil {
		return nil, err
	}
	return c.store.AddNote(ctx, s.ID, message, c.now())
}

// LogUsage records AI usage against the target session. The session id in
// u is filled in from t.
func (c *Controller) LogUsage(ctx context.Context, t Target, u ledger.Usage) (*ledger.Result, error) {
	s, err := c.resolve(ctx, t)
	if err != nil {
		return nil, err
	}
	if !s.Active() {
		return nil, session.InvalidInput("session %d is not active", s.ID)
	}
	u.SessionID = s.ID
	if u.Timestamp.IsZero() {
		u.Timestamp = c.now()
	}
	return c.ledger.LogUsage(ctx, u)
}

// CanAfford reports whether the target session can spend cost without
// crossing the ceiling. Nothing is written.
func (c *Controller) CanAfford(ctx context.Context, t Target, cost float64) (bool, error) {
	s, err := c.resolve(ctx, t)
	if err != nil {
		return false, err
	}
	return c.ledger.CanAfford(ctx, s.ID, cost)
}

func (c *Controller) budgetReached(ctx context.Context, id int64) error {
	_, err := c.endSession(ctx, id, NoteBudgetReached)
	return err
}
