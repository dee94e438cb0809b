package session

import (
	"os"
	"path/filepath"
)

// DBFileName is the name of the store file inside the data directory.
const DBFileName = "codesession.db"

// DataDir returns the codesession-specific XDG data directory.
// Path: $XDG_DATA_HOME/codesession or ~/.local/share/codesession
func DataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "codesession"), nil
}

// LegacyDBPath returns where older releases kept the store: ~/.codesession/sessions.db.
func LegacyDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".codesession", "sessions.db"), nil
}
