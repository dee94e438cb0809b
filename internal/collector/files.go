package collector

import (
	"bufio"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/brian-mwirigi/codesession/internal/session"
)

// DefaultIgnore lists directory names that are never watched. Dotfiles and
// dot-directories are skipped separately.
var DefaultIgnore = []string{
	"node_modules", "vendor", "dist", "build", "out", "target",
	"coverage", "__pycache__", "bower_components",
}

// IgnoreFiles are read from the watched root and add gitignore-style
// patterns to the ignore set.
var IgnoreFiles = []string{".gitignore", ".codesessionignore"}

// FSWatcher implements Watcher with fsnotify.
type FSWatcher struct {
	Logger *slog.Logger
}

// NewFSWatcher returns an FSWatcher logging to logger (slog.Default if nil).
func NewFSWatcher(logger *slog.Logger) *FSWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSWatcher{Logger: logger}
}

// Watch starts a recursive fsnotify watcher on dir. Directories created later
// are added as they appear. Events for ignored paths are dropped.
func (w *FSWatcher) Watch(dir string, ignore []string) (Subscription, error) {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	m := NewMatcher(root, ignore)
	if extra, err := LoadIgnoreFiles(root); err != nil {
		logger.Debug("reading ignore files", "dir", root, "error", err)
	} else {
		m.Add(extra...)
	}

	sub := &fsSubscription{
		root:    root,
		watcher: fw,
		matcher: m,
		logger:  logger,
		events:  make(chan Event, 64),
		errors:  make(chan error, 8),
		done:    make(chan struct{}),
	}
	if err := sub.addTree(root); err != nil {
		fw.Close()
		return nil, err
	}
	sub.wg.Add(1)
	go sub.loop()
	return sub, nil
}

type fsSubscription struct {
	root    string
	watcher *fsnotify.Watcher
	matcher *Matcher
	logger  *slog.Logger

	events chan Event
	errors chan error

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

func (s *fsSubscription) Events() <-chan Event { return s.events }
func (s *fsSubscription) Errors() <-chan error { return s.errors }

// Close stops the watcher and waits for the delivery goroutine to exit.
// It is safe to call more than once.
func (s *fsSubscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.watcher.Close()
		s.wg.Wait()
	})
	return s.closeErr
}

// addTree walks dir and adds a watch for every directory not ignored.
func (s *fsSubscription) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.root {
				return err
			}
			return nil // skip unreadable entries
		}
		if !d.IsDir() {
			return nil
		}
		if path != s.root && s.matcher.Ignored(path) {
			return filepath.SkipDir
		}
		if err := s.watcher.Add(path); err != nil {
			if path == s.root {
				return err
			}
			s.logger.Debug("watching directory", "path", path, "error", err)
		}
		return nil
	})
}

func (s *fsSubscription) loop() {
	defer s.wg.Done()
	defer close(s.events)
	defer close(s.errors)

	for {
		select {
		case <-s.done:
			return

		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handle(ev)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			select {
			case s.errors <- err:
			case <-s.done:
				return
			default:
				// Nobody is draining errors; watch errors are non-fatal.
				s.logger.Debug("dropped watch error", "error", err)
			}
		}
	}
}

func (s *fsSubscription) handle(ev fsnotify.Event) {
	var kind session.ChangeKind
	switch {
	case ev.Has(fsnotify.Create):
		kind = session.ChangeCreated
	case ev.Has(fsnotify.Write):
		kind = session.ChangeModified
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		kind = session.ChangeDeleted
	default:
		return // chmod only
	}

	isDir := false
	if kind == session.ChangeCreated {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			isDir = true
		}
	}
	if s.matcher.Ignored(ev.Name) {
		return
	}
	if isDir {
		// If a new directory was created, watch it too.
		if err := s.addTree(ev.Name); err != nil {
			s.logger.Debug("watching new directory", "path", ev.Name, "error", err)
		}
		return
	}

	rel, err := filepath.Rel(s.root, ev.Name)
	if err != nil {
		rel = ev.Name
	}
	select {
	case s.events <- Event{Path: filepath.ToSlash(rel), Kind: kind}:
	case <-s.done:
	}
}

// Matcher decides whether a path under root is ignored.
type Matcher struct {
	root     string
	patterns []string
}

// NewMatcher returns a Matcher for root with DefaultIgnore plus patterns.
func NewMatcher(root string, patterns []string) *Matcher {
	m := &Matcher{root: root}
	m.Add(DefaultIgnore...)
	m.Add(patterns...)
	return m
}

// Add appends gitignore-style patterns. Leading and trailing slashes are
// dropped and negations are not supported.
func (m *Matcher) Add(patterns ...string) {
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") || strings.HasPrefix(p, "!") {
			continue
		}
		p = strings.Trim(p, "/")
		if p != "" {
			m.patterns = append(m.patterns, p)
		}
	}
}

// Ignored reports whether path is ignored: any component relative to root
// that is a dotfile, or a component, the base name or the relative path
// matching a pattern.
func (m *Matcher) Ignored(path string) bool {
	rel := path
	if filepath.IsAbs(path) {
		r, err := filepath.Rel(m.root, path)
		if err != nil || strings.HasPrefix(r, "..") {
			return true
		}
		rel = r
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == "" {
		return false
	}

	parts := strings.Split(rel, "/")
	for _, part := range parts {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	for _, pattern := range m.patterns {
		// Match against the relative path.
		if matched, _ := filepath.Match(pattern, rel); matched {
			return true
		}
		// Match against each component, which covers the base name and any
		// ignored parent directory.
		for _, part := range parts {
			if matched, _ := filepath.Match(pattern, part); matched {
				return true
			}
		}
	}
	return false
}

// LoadIgnoreFiles reads IgnoreFiles from dir and returns their non-empty,
// non-comment lines.
func LoadIgnoreFiles(dir string) ([]string, error) {
	var patterns []string
	for _, name := range IgnoreFiles {
		extra, err := readPatternFile(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return patterns, err
		}
		patterns = append(patterns, extra...)
	}
	return patterns, nil
}

// readPatternFile reads a gitignore-style file and returns non-empty, non-comment lines.
func readPatternFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, scanner.Err()
}
