package tracker

import (
	"context"
	"strings"
)

// Poll runs one commit-poll tick for session id, as the scheduler would.
// It reports false when the tick was skipped because id is not tracked or a
// poll for it is already in flight.
func (r *Registry) Poll(id int64) bool {
	e := r.lookup(id)
	if e == nil || r.vcs == nil {
		return false
	}
	return r.poll(e)
}

// poll records HEAD if it moved since the last tick. Overlapping ticks are
// dropped, not queued. Any git failure counts as "no new commit".
func (r *Registry) poll(e *entry) bool {
	if !e.polling.CompareAndSwap(false, true) {
		r.logger.Debug("commit poll already in flight, skipping", "session_id", e.id)
		return false
	}
	defer e.polling.Store(false)

	if e.ctx.Err() != nil {
		return true
	}
	ctx, cancel := context.WithTimeout(e.ctx, r.pollTimeout)
	defer cancel()

	c, err := r.vcs.LatestCommit(ctx, e.repo)
	if err != nil {
		r.logger.Debug("commit poll failed", "session_id", e.id, "repo", e.repo, "error", err)
		return true
	}
	if c == nil {
		return true
	}

	e.mu.Lock()
	seen := sameCommit(c.Hash, e.lastHash) || e.closed
	e.mu.Unlock()
	if seen {
		return true
	}

	at := c.Timestamp
	if at.IsZero() {
		at = r.now()
	}
	if err := r.rec.RecordCommit(ctx, e.id, c.Hash, c.Message, at); err != nil {
		// lastHash stays put so the next tick retries.
		r.logger.Debug("recording commit", "session_id", e.id, "hash", c.Hash, "error", err)
		return true
	}

	e.mu.Lock()
	e.lastHash = c.Hash
	e.mu.Unlock()
	r.logger.Info("commit recorded", "session_id", e.id, "hash", c.Hash)
	return true
}

// sameCommit compares commit hashes where either side may be abbreviated.
// Sessions recorded by older releases stored short hashes.
func sameCommit(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	return strings.HasPrefix(b, a)
}
