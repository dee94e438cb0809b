package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/brian-mwirigi/codesession/internal/lifecycle"
	"github.com/brian-mwirigi/codesession/internal/session"
	"github.com/brian-mwirigi/codesession/internal/store"
)

// executeCommand runs a cobra command with the given args and captures combined output.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	_, err = root.ExecuteC()
	return buf.String(), err
}

// resetFlags restores every flag in the command tree to its default so
// package-level flag variables do not leak between runs.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// testEnv points every per-user path at temp dirs and returns the working
// directory commands run in.
type testEnv struct {
	work string
	data string
}

func newTestEnv(t testing.TB) testEnv {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, "data"))
	t.Cleanup(func() { resetFlags(rootCmd) })
	return testEnv{work: t.TempDir(), data: filepath.Join(home, "data", "codesession")}
}

// run executes args in the env's working directory.
func (e testEnv) run(args ...string) (string, error) {
	resetFlags(rootCmd)
	return executeCommand(rootCmd, append([]string{"--dir", e.work}, args...)...)
}

// runJSON executes args with --json and decodes stdout into v.
func (e testEnv) runJSON(t testing.TB, v any, args ...string) {
	t.Helper()
	out, err := e.run(append(args, "--json")...)
	require.NoError(t, err, out)
	require.NoError(t, json.Unmarshal([]byte(out), v), out)
}

func (e testEnv) openStore(t testing.TB) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(e.data, session.DBFileName))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func (e testEnv) start(t testing.TB, args ...string) *session.Session {
	t.Helper()
	var res lifecycle.StartResult
	e.runJSON(t, &res, append([]string{"start"}, args...)...)
	require.NotNil(t, res.Session)
	return res.Session
}

func TestStart(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run("start", "fix", "login")
	require.NoError(t, err)
	require.Contains(t, out, `Session #1 "fix login" started`)

	st := env.openStore(t)
	s, err := st.GetSession(t.Context(), 1)
	require.NoError(t, err)
	require.Equal(t, "fix login", s.Name)
	require.Equal(t, env.work, s.WorkDir)
	require.True(t, s.Active())
}

func TestStart_DefaultNameIsDirectory(t *testing.T) {
	env := newTestEnv(t)
	s := env.start(t)
	require.Equal(t, filepath.Base(env.work), s.Name)
}

// TestDoubleStartError verifies that running "start" when a session is already
// active fails with the conflicting session attached.
func TestDoubleStartError(t *testing.T) {
	env := newTestEnv(t)
	first := env.start(t, "one")

	_, err := env.run("start", "two")
	require.ErrorIs(t, err, session.ErrAlreadyActive)
	e, ok := session.AsError(err)
	require.True(t, ok)
	require.Equal(t, first.ID, e.Active.ID)
}

func TestStart_Resume(t *testing.T) {
	env := newTestEnv(t)
	first := env.start(t, "one")

	var res lifecycle.StartResult
	env.runJSON(t, &res, "start", "--resume")
	require.True(t, res.Resumed)
	require.Equal(t, first.ID, res.Session.ID)
}

func TestStart_CloseStale(t *testing.T) {
	env := newTestEnv(t)
	first := env.start(t, "one")

	var res lifecycle.StartResult
	env.runJSON(t, &res, "start", "two", "--close-stale")
	require.False(t, res.Resumed)
	require.NotEqual(t, first.ID, res.Session.ID)
	require.Len(t, res.Closed, 1)
	require.Equal(t, first.ID, res.Closed[0].ID)
	require.Contains(t, res.Closed[0].Notes, lifecycle.NoteAutoClosed)
}

func TestEnd(t *testing.T) {
	env := newTestEnv(t)
	s := env.start(t)

	var ended session.Session
	env.runJSON(t, &ended, "end", "-m", "shipped")
	require.Equal(t, s.ID, ended.ID)
	require.Equal(t, session.StatusCompleted, ended.Status)
	require.Equal(t, "shipped", ended.Notes)
	require.NotNil(t, ended.EndTime)

	_, err := env.run("end")
	require.ErrorIs(t, err, session.ErrNotFound)

	_, err = env.run("end", "--session", strconv.FormatInt(s.ID, 10))
	require.True(t, session.IsCode(err, session.CodeInvalidInput))
}

func TestRecover(t *testing.T) {
	env := newTestEnv(t)
	s := env.start(t)

	var recovered []session.Session
	env.runJSON(t, &recovered, "recover", "--max-age", "1h")
	require.Empty(t, recovered)

	time.Sleep(5 * time.Millisecond) // timestamps are stored to the millisecond
	env.runJSON(t, &recovered, "recover", "--max-age", "1ms")
	require.Len(t, recovered, 1)
	require.Equal(t, s.ID, recovered[0].ID)
	require.Contains(t, recovered[0].Notes, lifecycle.NoteAutoRecovered)
}
