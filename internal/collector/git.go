package collector

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultGitTimeout bounds every git invocation so a stalled backend cannot
// wedge a caller.
const DefaultGitTimeout = 30 * time.Second

// GitRunner executes a git command and returns its output.
// This abstraction allows mocking in tests.
type GitRunner func(ctx context.Context, workDir string, args ...string) (string, error)

// GitClient implements VCS by shelling out to git.
type GitClient struct {
	Runner  GitRunner     // if nil, uses the real git subprocess
	Timeout time.Duration // per command; 0 means DefaultGitTimeout
}

// NewGitClient returns a GitClient backed by the git binary on PATH.
func NewGitClient() *GitClient {
	return &GitClient{}
}

// defaultGitRunner runs git as a real subprocess.
func defaultGitRunner(ctx context.Context, workDir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = workDir
	out, err := cmd.Output()
	return string(out), err
}

func (g *GitClient) run(ctx context.Context, dir string, args ...string) (string, error) {
	runner := g.Runner
	if runner == nil {
		runner = defaultGitRunner
	}
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultGitTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := runner(ctx, dir, args...)
	if err != nil && ctx.Err() != nil {
		return "", fmt.Errorf("git %s: %w", args[0], ctx.Err())
	}
	return out, err
}

// RepoRoot returns the top-level directory of the repository containing dir,
// or "" when dir is not inside a repository. It works on repositories
// without commits.
func (g *GitClient) RepoRoot(ctx context.Context, dir string) (string, error) {
	out, err := g.run(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		if notARepo(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CurrentBranch implements VCS. symbolic-ref works before the first commit,
// unlike rev-parse --abbrev-ref HEAD.
func (g *GitClient) CurrentBranch(ctx context.Context, repo string) (string, error) {
	out, err := g.run(ctx, repo, "symbolic-ref", "--short", "-q", "HEAD")
	if err != nil {
		if notARepo(err) || exitCode(err) == 1 {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// LatestCommit implements VCS. Hash is the full object name so it compares
// stably regardless of core.abbrev or repository size.
func (g *GitClient) LatestCommit(ctx context.Context, repo string) (*CommitInfo, error) {
	out, err := g.run(ctx, repo, "log", "-1", "--format=%H%x00%s%x00%cI")
	if err != nil {
		if notARepo(err) {
			return nil, nil
		}
		return nil, err
	}
	return parseCommitLine(out)
}

// Diff implements VCS.
func (g *GitClient) Diff(ctx context.Context, repo, from, to, path string) (string, error) {
	args := []string{"diff", "--no-color", from}
	if to != "" {
		args = append(args, to)
	}
	if path != "" {
		args = append(args, "--", path)
	}
	out, err := g.run(ctx, repo, args...)
	if err != nil {
		if notARepo(err) {
			return "", nil
		}
		return "", err
	}
	return out, nil
}

// ShowCommit returns the patch introduced by a single commit, including the
// root commit, which has no parent to diff against.
func (g *GitClient) ShowCommit(ctx context.Context, repo, hash string) (string, error) {
	out, err := g.run(ctx, repo, "show", "--no-color", "--format=", hash)
	if err != nil {
		if notARepo(err) {
			return "", nil
		}
		return "", err
	}
	return out, nil
}

func parseCommitLine(out string) (*CommitInfo, error) {
	line := strings.TrimRight(out, "\n")
	if line == "" {
		return nil, nil
	}
	parts := strings.SplitN(line, "\x00", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("unexpected git log output %q", line)
	}
	ts, err := time.Parse(time.RFC3339, parts[2])
	if err != nil {
		return nil, fmt.Errorf("parse commit time: %w", err)
	}
	return &CommitInfo{Hash: parts[0], Message: parts[1], Timestamp: ts}, nil
}

// notARepo reports whether err is git's exit code 128, which covers "not a
// git repository", "does not have any commits yet" and unknown revisions.
func notARepo(err error) bool {
	return exitCode(err) == 128
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
