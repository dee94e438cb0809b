package tracker

import (
	"time"

	"github.com/brian-mwirigi/codesession/internal/collector"
	"github.com/brian-mwirigi/codesession/internal/session"
)

type dedupKey struct {
	path string
	kind session.ChangeKind
}

// observeFiles drains e's watch until it is closed. Watch errors are logged
// and never stop the loop.
func (r *Registry) observeFiles(e *entry) {
	defer close(e.done)
	events, errs := e.sub.Events(), e.sub.Errors()
	for events != nil || errs != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.observe(e, ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			r.logger.Warn("file watch error", "session_id", e.id, "error", err)
		}
	}
}

// observe records ev unless the same (path, kind) was recorded within the
// debounce window.
func (r *Registry) observe(e *entry, ev collector.Event) {
	key := dedupKey{path: ev.Path, kind: ev.Kind}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if _, seen := e.timers[key]; seen {
		e.mu.Unlock()
		return
	}
	e.timers[key] = r.expire(e, key)
	e.mu.Unlock()

	if err := r.rec.RecordFileChange(e.ctx, e.id, ev.Path, ev.Kind, r.now()); err != nil {
		r.logger.Debug("recording file change", "session_id", e.id, "path", ev.Path, "error", err)
	}
}

// expire schedules key's removal from the dedup set. Called with e.mu held,
// which orders the assignment of t before the callback reads it.
func (r *Registry) expire(e *entry, key dedupKey) *time.Timer {
	var t *time.Timer
	t = time.AfterFunc(r.debounce, func() {
		e.mu.Lock()
		if e.timers[key] == t {
			delete(e.timers, key)
		}
		e.mu.Unlock()
	})
	return t
}
