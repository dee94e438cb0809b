// Package tracker owns the live tracking resources of active sessions: one
// filesystem watch, one commit-poll schedule and one set of debounce timers
// per session id, never shared between sessions.
package tracker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/brian-mwirigi/codesession/internal/collector"
	"github.com/brian-mwirigi/codesession/internal/session"
)

const (
	// DebounceWindow suppresses repeats of the same (path, kind) event.
	DebounceWindow = time.Second
	// CommitPollInterval is how often each session's repository is polled.
	CommitPollInterval = 10 * time.Second
	// CommitPollTimeout bounds a single poll's git query.
	CommitPollTimeout = 30 * time.Second
)

// Recorder is the part of the accounting store the observers write to.
type Recorder interface {
	RecordFileChange(ctx context.Context, sessionID int64, path string, kind session.ChangeKind, at time.Time) error
	RecordCommit(ctx context.Context, sessionID int64, hash, message string, at time.Time) error
}

// Target describes what to track for one session.
type Target struct {
	SessionID int64
	Dir       string // watched directory
	Repo      string // polled repository; Dir when empty
	LastHash  string // last commit already accounted for
}

// TargetFor builds a Target from a session row, seeding the last-seen hash
// with the head captured at start.
func TargetFor(s *session.Session) Target {
	return Target{SessionID: s.ID, Dir: s.WorkDir, Repo: s.RepoRoot, LastHash: s.GitHead}
}

// Registry maps session ids to their tracking resources.
type Registry struct {
	rec     Recorder
	watcher collector.Watcher
	vcs     collector.VCS
	logger  *slog.Logger
	ignore  []string
	now     func() time.Time

	debounce    time.Duration
	pollEvery   time.Duration
	pollTimeout time.Duration

	mu          sync.Mutex
	entries     map[int64]*entry
	cron        *cron.Cron
	cronRunning bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger for observer diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithIgnore adds ignore patterns to every watch.
func WithIgnore(patterns []string) Option {
	return func(r *Registry) { r.ignore = append(r.ignore, patterns...) }
}

// New returns an empty Registry. watcher or vcs may be nil to disable file
// watching or commit polling.
func New(rec Recorder, watcher collector.Watcher, vcs collector.VCS, opts ...Option) *Registry {
	r := &Registry{
		rec:         rec,
		watcher:     watcher,
		vcs:         vcs,
		logger:      slog.Default(),
		now:         time.Now,
		debounce:    DebounceWindow,
		pollEvery:   CommitPollInterval,
		pollTimeout: CommitPollTimeout,
		entries:     make(map[int64]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cron = cron.New(cron.WithLogger(cronLogger{r.logger}))
	return r
}

// entry is the per-session tracking state.
type entry struct {
	id    int64
	token string
	dir   string
	repo  string

	ctx    context.Context
	cancel context.CancelFunc

	sub    collector.Subscription
	done   chan struct{} // closed when the event loop exits
	cronID cron.EntryID
	polled bool

	polling atomic.Bool

	mu       sync.Mutex
	closed   bool
	timers   map[dedupKey]*time.Timer
	lastHash string
}

// Register starts tracking t. Registering a session that is already tracked
// is a no-op. A watch that cannot be established is logged and the session
// is tracked for commits only.
func (r *Registry) Register(t Target) error {
	if t.SessionID <= 0 {
		return session.InvalidInput("invalid session id %d", t.SessionID)
	}
	if t.Dir == "" {
		return session.InvalidInput("session %d has no directory to track", t.SessionID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[t.SessionID]; ok {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		id:       t.SessionID,
		token:    uuid.NewString(),
		dir:      t.Dir,
		repo:     t.Repo,
		ctx:      ctx,
		cancel:   cancel,
		timers:   make(map[dedupKey]*time.Timer),
		lastHash: t.LastHash,
	}
	if e.repo == "" {
		e.repo = e.dir
	}
	log := r.logger.With("session_id", e.id, "registration", e.token)

	if r.watcher != nil {
		sub, err := r.watcher.Watch(e.dir, r.ignore)
		if err != nil {
			log.Warn("file watch unavailable, tracking commits only", "dir", e.dir, "error", err)
		} else {
			e.sub = sub
			e.done = make(chan struct{})
			go r.observeFiles(e)
		}
	}

	if r.vcs != nil {
		e.cronID = r.cron.Schedule(cron.Every(r.pollEvery), cron.FuncJob(func() { r.poll(e) }))
		e.polled = true
		if !r.cronRunning {
			r.cron.Start()
			r.cronRunning = true
		}
	}

	r.entries[e.id] = e
	log.Debug("session registered", "dir", e.dir, "repo", e.repo)
	return nil
}

// Unregister releases every resource held for id: the poll schedule, the
// watch handle and all pending debounce timers. Unknown ids are a no-op.
func (r *Registry) Unregister(id int64) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
		if e.polled {
			r.cron.Remove(e.cronID)
		}
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.release(e)
	r.logger.Debug("session unregistered", "session_id", id, "registration", e.token)
}

func (r *Registry) release(e *entry) {
	e.cancel()

	e.mu.Lock()
	e.closed = true
	for k, t := range e.timers {
		t.Stop()
		delete(e.timers, k)
	}
	e.mu.Unlock()

	if e.sub != nil {
		if err := e.sub.Close(); err != nil {
			r.logger.Debug("closing watch", "session_id", e.id, "error", err)
		}
		<-e.done
	}
}

// Registered reports whether id is currently tracked.
func (r *Registry) Registered(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Sessions returns the tracked session ids in ascending order.
func (r *Registry) Sessions() []int64 {
	r.mu.Lock()
	ids := make([]int64, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close unregisters every session and stops the poll scheduler, waiting for
// any in-flight poll to finish.
func (r *Registry) Close() {
	for _, id := range r.Sessions() {
		r.Unregister(id)
	}
	r.mu.Lock()
	running := r.cronRunning
	r.cronRunning = false
	r.mu.Unlock()
	if running {
		<-r.cron.Stop().Done()
	}
}

func (r *Registry) lookup(id int64) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[id]
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Warn("cron: "+msg, append(keysAndValues, "error", err)...)
}
