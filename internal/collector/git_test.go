package collector

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exitCodeError returns a real *exec.ExitError with the given exit code
// by running a shell command that exits with that code.
func exitCodeError(code string) error {
	return exec.Command("sh", "-c", "exit "+code).Run()
}

func fakeGit(t *testing.T, responses map[string]string, errs map[string]error) *GitClient {
	return &GitClient{Runner: func(ctx context.Context, workDir string, args ...string) (string, error) {
		key := strings.Join(args, " ")
		if err, ok := errs[key]; ok {
			return "", err
		}
		if out, ok := responses[key]; ok {
			return out, nil
		}
		t.Errorf("unexpected git command: %q", key)
		return "", nil
	}}
}

const logArgs = "log -1 --format=%H%x00%s%x00%cI"

// TestGitClientNonGitRepo verifies that exit code 128 (not a repository, no
// commits yet) is reported as an empty result rather than an error.
func TestGitClientNonGitRepo(t *testing.T) {
	exitErr := exitCodeError("128")
	require.Error(t, exitErr)

	g := &GitClient{Runner: func(ctx context.Context, workDir string, args ...string) (string, error) {
		return "", exitErr
	}}
	ctx := context.Background()

	c, err := g.LatestCommit(ctx, "/tmp")
	require.NoError(t, err)
	assert.Nil(t, c)

	branch, err := g.CurrentBranch(ctx, "/tmp")
	require.NoError(t, err)
	assert.Empty(t, branch)

	root, err := g.RepoRoot(ctx, "/tmp")
	require.NoError(t, err)
	assert.Empty(t, root)

	diff, err := g.Diff(ctx, "/tmp", "HEAD", "", "")
	require.NoError(t, err)
	assert.Empty(t, diff)
}

func TestGitClientSuccess(t *testing.T) {
	g := fakeGit(t, map[string]string{
		logArgs:                          "4b825dc642cb6eb9a060e54bf8d69288fbee4904\x00fix: handle empty input\x002025-03-10T12:00:00+01:00\n",
		"symbolic-ref --short -q HEAD":   "main\n",
		"rev-parse --show-toplevel":      "/repo\n",
		"diff --no-color HEAD~1 HEAD":    "diff --git a/foo.go b/foo.go\n",
		"diff --no-color HEAD -- foo.go": "diff --git a/foo.go b/foo.go\n",
	}, nil)
	ctx := context.Background()

	c, err := g.LatestCommit(ctx, "/repo")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "4b825dc642cb6eb9a060e54bf8d69288fbee4904", c.Hash)
	assert.Equal(t, "fix: handle empty input", c.Message)
	assert.True(t, c.Timestamp.Equal(time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC)))

	branch, err := g.CurrentBranch(ctx, "/repo")
	require.NoError(t, err)
	assert.Equal(t, "main", branch)

	root, err := g.RepoRoot(ctx, "/repo/sub")
	require.NoError(t, err)
	assert.Equal(t, "/repo", root)

	diff, err := g.Diff(ctx, "/repo", "HEAD~1", "HEAD", "")
	require.NoError(t, err)
	assert.Contains(t, diff, "foo.go")

	diff, err = g.Diff(ctx, "/repo", "HEAD", "", "foo.go")
	require.NoError(t, err)
	assert.Contains(t, diff, "foo.go")
}

func TestGitClientDetachedHead(t *testing.T) {
	g := fakeGit(t, nil, map[string]error{"symbolic-ref --short -q HEAD": exitCodeError("1")})
	branch, err := g.CurrentBranch(context.Background(), "/repo")
	require.NoError(t, err)
	assert.Empty(t, branch)
}

func TestGitClientPropagatesOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	g := fakeGit(t, nil, map[string]error{logArgs: boom})
	_, err := g.LatestCommit(context.Background(), "/repo")
	require.ErrorIs(t, err, boom)
}

func TestGitClientTimeout(t *testing.T) {
	g := &GitClient{
		Timeout: 20 * time.Millisecond,
		Runner: func(ctx context.Context, workDir string, args ...string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	_, err := g.LatestCommit(context.Background(), "/repo")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseCommitLine(t *testing.T) {
	c, err := parseCommitLine("\n")
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = parseCommitLine("abc only")
	require.Error(t, err)
}

// TestGitClientRealRepo runs against the git binary when it is installed.
func TestGitClientRealRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	git := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	ctx := context.Background()
	g := NewGitClient()

	git("init", "-q", "-b", "trunk")

	// No commits yet: root and branch resolve, latest commit is empty.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	root, err := g.RepoRoot(ctx, filepath.Join(dir, "sub"))
	require.NoError(t, err)
	want, _ := filepath.EvalSymlinks(dir)
	gotRoot, _ := filepath.EvalSymlinks(root)
	assert.Equal(t, want, gotRoot)

	branch, err := g.CurrentBranch(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, "trunk", branch)

	c, err := g.LatestCommit(ctx, dir)
	require.NoError(t, err)
	assert.Nil(t, c)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello\n"), 0o644))
	git("add", "a.txt")
	git("commit", "-q", "-m", "first commit")

	c, err = g.LatestCommit(ctx, dir)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "first commit", c.Message)
	assert.Len(t, c.Hash, 40, "full object name, not an abbreviation")

	patch, err := g.ShowCommit(ctx, dir, c.Hash)
	require.NoError(t, err)
	assert.Contains(t, patch, "+hello")

	// Outside any repository.
	outside := t.TempDir()
	root, err = g.RepoRoot(ctx, outside)
	require.NoError(t, err)
	assert.Empty(t, root)
}
