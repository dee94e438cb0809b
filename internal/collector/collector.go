// Package collector provides the external capabilities session tracking
// depends on: querying git and watching a directory tree for changes.
package collector

import (
	"context"
	"time"

	"github.com/brian-mwirigi/codesession/internal/session"
)

// CommitInfo describes the commit HEAD points at.
type CommitInfo struct {
	Hash      string    // abbreviated hash
	Message   string    // subject line
	Timestamp time.Time // committer date
}

// VCS is the version-control capability. "Not a repository" and "no commits
// yet" are reported as empty results, not errors.
type VCS interface {
	// LatestCommit returns nil when the repository has no commits.
	LatestCommit(ctx context.Context, repo string) (*CommitInfo, error)
	// CurrentBranch returns "" when HEAD is detached or dir is not a repo.
	CurrentBranch(ctx context.Context, repo string) (string, error)
	// Diff returns the diff between from and to (working tree when to is
	// empty), optionally limited to path.
	Diff(ctx context.Context, repo, from, to, path string) (string, error)
}

// Event is one filesystem change, with Path relative to the watched root.
type Event struct {
	Path string
	Kind session.ChangeKind
}

// Watcher is the filesystem-watch capability.
type Watcher interface {
	Watch(dir string, ignore []string) (Subscription, error)
}

// Subscription is a live watch. Close releases every OS handle it holds and
// closes both channels.
type Subscription interface {
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}
