package lifecycle_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brian-mwirigi/codesession/internal/collector"
	"github.com/brian-mwirigi/codesession/internal/ledger"
	"github.com/brian-mwirigi/codesession/internal/lifecycle"
	"github.com/brian-mwirigi/codesession/internal/session"
	"github.com/brian-mwirigi/codesession/internal/store"
	"github.com/brian-mwirigi/codesession/internal/tracker"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeGit resolves any directory under a known root to that root.
type fakeGit struct {
	roots  []string
	branch string
	head   string
	err    error
}

func (g *fakeGit) RepoRoot(ctx context.Context, dir string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	for _, r := range g.roots {
		if dir == r || strings.HasPrefix(dir, r+string(filepath.Separator)) {
			return r, nil
		}
	}
	return "", nil
}

func (g *fakeGit) CurrentBranch(ctx context.Context, repo string) (string, error) {
	return g.branch, nil
}

func (g *fakeGit) LatestCommit(ctx context.Context, repo string) (*collector.CommitInfo, error) {
	if g.head == "" {
		return nil, nil
	}
	return &collector.CommitInfo{Hash: g.head, Message: "head"}, nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	ctl      *lifecycle.Controller
	store    *store.Store
	registry *tracker.Registry
	clock    *clock
}

func newFixture(t *testing.T, git *fakeGit, budget *float64) *fixture {
	t.Helper()
	clk := &clock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	s, err := store.Open(filepath.Join(t.TempDir(), "codesession.db"), store.WithLogger(quiet), store.WithClock(clk.now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	reg := tracker.New(s, nil, nil, tracker.WithLogger(quiet))
	t.Cleanup(reg.Close)

	opts := lifecycle.Options{
		Store:    s,
		Registry: reg,
		Budget:   budget,
		Logger:   quiet,
		Now:      clk.now,
	}
	if git != nil {
		opts.Git = git
	}
	return &fixture{ctl: lifecycle.New(opts), store: s, registry: reg, clock: clk}
}

func TestConcurrentSessionsInDifferentDirectories(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeGit{roots: []string{"/repo1", "/repo2"}}, nil)

	a, err := f.ctl.Start(ctx, lifecycle.StartOptions{Name: "A", Dir: "/repo1", Track: true})
	require.NoError(t, err)
	b, err := f.ctl.Start(ctx, lifecycle.StartOptions{Name: "B", Dir: "/repo2", Track: true})
	require.NoError(t, err)
	assert.NotEqual(t, a.Session.ID, b.Session.ID)
	assert.True(t, a.Session.Active())
	assert.True(t, b.Session.Active())
	assert.Equal(t, []int64{a.Session.ID, b.Session.ID}, f.registry.Sessions())

	ended, err := f.ctl.End(ctx, lifecycle.Target{Dir: "/repo1"}, "done")
	require.NoError(t, err)
	assert.Equal(t, a.Session.ID, ended.ID)
	assert.Equal(t, session.StatusCompleted, ended.Status)
	assert.False(t, f.registry.Registered(a.Session.ID))

	still, err := f.store.GetSession(ctx, b.Session.ID)
	require.NoError(t, err)
	assert.True(t, still.Active())
	assert.True(t, f.registry.Registered(b.Session.ID))
}

func TestStart_AlreadyActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeGit{roots: []string{"/repo1"}}, nil)

	first, err := f.ctl.Start(ctx, lifecycle.StartOptions{Name: "first", Dir: "/repo1"})
	require.NoError(t, err)

	_, err = f.ctl.Start(ctx, lifecycle.StartOptions{Name: "second", Dir: "/repo1/pkg"})
	require.ErrorIs(t, err, session.ErrAlreadyActive)
	e, ok := session.AsError(err)
	require.True(t, ok)
	require.NotNil(t, e.Active)
	assert.Equal(t, first.Session.ID, e.Active.ID)
	assert.Contains(t, e.Message, "--resume")
}

func TestStart_ConcurrentStartsInOneSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeGit{roots: []string{"/repo1"}}, nil)

	const n = 6
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.ctl.Start(ctx, lifecycle.StartOptions{Name: "racer", Dir: "/repo1"})
		}(i)
	}
	wg.Wait()

	started := 0
	for _, err := range errs {
		if err == nil {
			started++
			continue
		}
		assert.ErrorIs(t, err, session.ErrAlreadyActive)
	}
	assert.Equal(t, 1, started)

	active, err := f.store.ActiveInSlot(ctx, "/repo1", "/repo1")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestStart_ResumeFromSubdirectory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeGit{roots: []string{"/repo1"}}, nil)

	first, err := f.ctl.Start(ctx, lifecycle.StartOptions{Name: "work", Dir: "/repo1"})
	require.NoError(t, err)

	again, err := f.ctl.Start(ctx, lifecycle.StartOptions{Dir: "/repo1/internal/api", Resume: true, Track: true})
	require.NoError(t, err)
	assert.True(t, again.Resumed)
	assert.Equal(t, first.Session.ID, again.Session.ID)
	assert.True(t, f.registry.Registered(first.Session.ID))

	list, total, err := f.store.ListSessions(ctx, store.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total, "resume does not create a session: %+v", list)
}

func TestStart_ResumeWithoutActiveStartsNew(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)

	res, err := f.ctl.Start(ctx, lifecycle.StartOptions{Dir: "/tmp/project", Resume: true})
	require.NoError(t, err)
	assert.False(t, res.Resumed)
	assert.Equal(t, "project", res.Session.Name, "name defaults to the slot's base name")
}

func TestStart_CloseStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeGit{roots: []string{"/repo1", "/repo2"}}, nil)

	a, err := f.ctl.Start(ctx, lifecycle.StartOptions{Name: "A", Dir: "/repo1", Track: true})
	require.NoError(t, err)
	b, err := f.ctl.Start(ctx, lifecycle.StartOptions{Name: "B", Dir: "/repo2", Track: true})
	require.NoError(t, err)

	f.clock.advance(time.Hour)
	c, err := f.ctl.Start(ctx, lifecycle.StartOptions{Name: "C", Dir: "/repo1", CloseStale: true, Track: true})
	require.NoError(t, err)
	require.Len(t, c.Closed, 2)
	for _, s := range c.Closed {
		assert.Equal(t, session.StatusCompleted, s.Status)
		assert.Contains(t, s.Notes, lifecycle.NoteAutoClosed)
		assert.Equal(t, int64(3600), s.Duration)
	}
	assert.False(t, f.registry.Registered(a.Session.ID))
	assert.False(t, f.registry.Registered(b.Session.ID))
	assert.Equal(t, []int64{c.Session.ID}, f.registry.Sessions())
}

func TestStart_CapturesGitState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeGit{roots: []string{"/repo1"}, branch: "feature/x", head: "abc1234"}, nil)

	res, err := f.ctl.Start(ctx, lifecycle.StartOptions{Name: "git", Dir: "/repo1/cmd"})
	require.NoError(t, err)
	assert.Equal(t, "/repo1/cmd", res.Session.WorkDir)
	assert.Equal(t, "/repo1", res.Session.RepoRoot)
	assert.Equal(t, "feature/x", res.Session.GitBranch)
	assert.Equal(t, "abc1234", res.Session.GitHead)
}

func TestResolveSlot_GitFailureFallsBack(t *testing.T) {
	f := newFixture(t, &fakeGit{err: errors.New("git: executable not found")}, nil)

	slot, err := f.ctl.ResolveSlot(context.Background(), "/somewhere/deep")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Slot{Dir: "/somewhere/deep"}, slot)
	assert.Equal(t, "/somewhere/deep", slot.Key())
}

func TestRecover(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	now := f.clock.now()

	staleID, err := f.store.CreateSession(ctx, store.NewSession{Name: "crashed", WorkDir: "/a", StartTime: now.Add(-30 * time.Hour)})
	require.NoError(t, err)
	freshID, err := f.store.CreateSession(ctx, store.NewSession{Name: "fresh", WorkDir: "/b", StartTime: now.Add(-time.Hour)})
	require.NoError(t, err)

	got, err := f.ctl.Recover(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, staleID, got[0].ID)
	assert.Equal(t, session.StatusCompleted, got[0].Status)
	assert.Equal(t, int64(30*3600), got[0].Duration)
	assert.Contains(t, got[0].Notes, lifecycle.NoteAutoRecovered)

	fresh, err := f.store.GetSession(ctx, freshID)
	require.NoError(t, err)
	assert.True(t, fresh.Active())

	again, err := f.ctl.Recover(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestEnd_NothingActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)

	_, err := f.ctl.End(ctx, lifecycle.Target{Dir: "/nowhere"}, "")
	require.ErrorIs(t, err, session.ErrNotFound)

	_, err = f.ctl.End(ctx, lifecycle.Target{ID: 77}, "")
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestNote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)

	res, err := f.ctl.Start(ctx, lifecycle.StartOptions{Name: "n", Dir: "/w"})
	require.NoError(t, err)

	note, err := f.ctl.Note(ctx, lifecycle.Target{Dir: "/w"}, "tried the cache first")
	require.NoError(t, err)
	assert.Equal(t, res.Session.ID, note.SessionID)

	_, err = f.ctl.Note(ctx, lifecycle.Target{Dir: "/w"}, "   ")
	require.ErrorIs(t, err, session.ErrInvalidInput)
}

func TestLogUsage_BudgetAutoEnds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, session.Float64(0.5))

	res, err := f.ctl.Start(ctx, lifecycle.StartOptions{Name: "b", Dir: "/w", Track: true})
	require.NoError(t, err)
	id := res.Session.ID

	ok, err := f.ctl.CanAfford(ctx, lifecycle.Target{ID: id}, 0.6)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.ctl.LogUsage(ctx, lifecycle.Target{Dir: "/w"}, ledger.Usage{Model: "gpt-4o", Tokens: session.Int64(10), Cost: session.Float64(0.6)})
	require.ErrorIs(t, err, session.ErrBudgetExceeded)

	out, err := f.ctl.LogUsage(ctx, lifecycle.Target{Dir: "/w"}, ledger.Usage{
		Model: "claude-sonnet-4", PromptTokens: session.Int64(100_000), CompletionTokens: session.Int64(10_000),
	})
	require.NoError(t, err)
	assert.True(t, out.Estimated)
	assert.False(t, out.AutoEnded)
	assert.InDelta(t, 0.45, out.Totals.Cost, 1e-9)

	out, err = f.ctl.LogUsage(ctx, lifecycle.Target{ID: id}, ledger.Usage{Model: "gpt-4o", Tokens: session.Int64(1), Cost: session.Float64(0.05)})
	require.NoError(t, err)
	assert.True(t, out.AutoEnded)
	assert.False(t, f.registry.Registered(id))

	s, err := f.store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, s.Status)
	assert.Contains(t, s.Notes, lifecycle.NoteBudgetReached)

	_, err = f.ctl.LogUsage(ctx, lifecycle.Target{ID: id}, ledger.Usage{Model: "gpt-4o", Tokens: session.Int64(1), Cost: session.Float64(0)})
	require.ErrorIs(t, err, session.ErrInvalidInput, "ended sessions take no more usage")
}
