package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/brian-mwirigi/codesession/internal/collector"
	"github.com/brian-mwirigi/codesession/internal/config"
	"github.com/brian-mwirigi/codesession/internal/ledger"
	"github.com/brian-mwirigi/codesession/internal/lifecycle"
	"github.com/brian-mwirigi/codesession/internal/session"
	"github.com/brian-mwirigi/codesession/internal/store"
	"github.com/brian-mwirigi/codesession/internal/tracker"
)

// app wires the components one command invocation needs.
type app struct {
	dir      string
	store    *store.Store
	git      *collector.GitClient
	registry *tracker.Registry
	ctl      *lifecycle.Controller
}

// openApp opens the store (migrating a legacy store first) and builds the
// lifecycle controller. Callers must Close the result.
func openApp(cmd *cobra.Command) (*app, error) {
	ctx := cmd.Context()
	dir, err := resolveWorkDir()
	if err != nil {
		return nil, err
	}
	dataDir := dataDirFlag
	if dataDir == "" {
		if dataDir, err = cfg.ResolveDataDir(session.DataDir); err != nil {
			return nil, fmt.Errorf("resolving data directory: %w", err)
		}
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, session.DBFileName)

	if legacy, err := session.LegacyDBPath(); err == nil {
		if _, err := store.MigrateLegacy(ctx, legacy, dbPath, logger); err != nil {
			logger.Warn("legacy store migration failed", "from", legacy, "error", err)
		}
	}

	st, err := store.Open(dbPath, store.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	ignore := append([]string{}, cfg.IgnorePatterns...)
	if extra, err := collector.LoadIgnoreFiles(dir); err != nil {
		logger.Debug("reading ignore files", "dir", dir, "error", err)
	} else {
		ignore = append(ignore, extra...)
	}

	git := collector.NewGitClient()
	reg := tracker.New(st, collector.NewFSWatcher(logger), git,
		tracker.WithLogger(logger),
		tracker.WithIgnore(ignore),
	)
	ctl := lifecycle.New(lifecycle.Options{
		Store:    st,
		Git:      git,
		Registry: reg,
		Pricing:  ledger.LoadPricing(pricingPath(), logger),
		Budget:   cfg.Budget,
		Logger:   logger,
		Now:      time.Now,
	})
	return &app{dir: dir, store: st, git: git, registry: reg, ctl: ctl}, nil
}

// Close stops any tracking and closes the store.
func (a *app) Close() error {
	a.registry.Close()
	return a.store.Close()
}

// target selects the session a command acts on: --session when given, else
// the active session in the working directory's slot.
func (a *app) target(id int64) lifecycle.Target {
	return lifecycle.Target{ID: id, Dir: a.dir}
}

// pricingPath is the pricing override file: pricing_file from config, else
// pricing.json in the config directory.
func pricingPath() string {
	if cfg.PricingFile != "" {
		return cfg.PricingFile
	}
	dir, err := config.Dir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "pricing.json")
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}
