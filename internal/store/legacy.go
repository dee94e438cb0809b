package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// MigrateLegacy copies a store from an older data location to dst the first
// time the new location is used. The copy is made with VACUUM INTO through
// the sqlite driver, so transactions still sitting in the legacy store's WAL
// are carried over even when another process has it open. Both the legacy
// store and the copy are integrity-checked; a corrupt store is skipped and
// Open starts from a fresh one. It reports whether a legacy store was adopted.
func MigrateLegacy(ctx context.Context, legacy, dst string, logger *slog.Logger) (bool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if legacy == "" || legacy == dst {
		return false, nil
	}
	if _, err := os.Stat(dst); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if _, err := os.Stat(legacy); errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, err
	}

	src, err := sql.Open("sqlite", legacyDSN(legacy))
	if err != nil {
		return false, fmt.Errorf("open legacy store: %w", err)
	}
	defer src.Close()

	if err := IntegrityCheck(ctx, src); err != nil {
		logger.Warn("legacy store failed integrity check, starting fresh",
			"legacy", legacy, "error", err)
		return false, nil
	}
	if _, err := src.ExecContext(ctx, `VACUUM INTO ?`, dst); err != nil {
		removeDB(dst)
		return false, fmt.Errorf("copy legacy store: %w", err)
	}

	if err := checkFile(ctx, dst); err != nil {
		logger.Warn("migrated store failed integrity check, starting fresh",
			"legacy", legacy, "error", err)
		removeDB(dst)
		return false, nil
	}
	logger.Info("migrated legacy store", "from", legacy, "to", dst)
	return true, nil
}

// legacyDSN opens the legacy store without changing its journal mode.
func legacyDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, BusyTimeout.Milliseconds())
}

func checkFile(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()
	return IntegrityCheck(ctx, db)
}

func removeDB(path string) {
	for _, p := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		os.Remove(p)
	}
}
