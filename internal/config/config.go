// Package config loads codesession settings from TOML files. The project
// file overrides the global file, which overrides built-in defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// ProjectFile is read from the working directory.
	ProjectFile = ".codesession.toml"

	DefaultServerAddr = "127.0.0.1:3737"
	DefaultStaleAfter = 24 * time.Hour
	DefaultLogLevel   = "warn"
)

// Config holds all configurable codesession settings.
type Config struct {
	DataDir        string   `toml:"data_dir,omitempty" json:"data_dir,omitempty"`
	LogLevel       string   `toml:"log_level,omitempty" json:"log_level,omitempty"`
	IgnorePatterns []string `toml:"ignore_patterns,omitempty" json:"ignore_patterns,omitempty"`
	PricingFile    string   `toml:"pricing_file,omitempty" json:"pricing_file,omitempty"`
	Budget         *float64 `toml:"budget,omitempty" json:"budget,omitempty"` // per-session ceiling
	StaleAfter     Duration `toml:"stale_after,omitempty" json:"stale_after,omitempty"`
	Server         Server   `toml:"server" json:"server"`
}

// Server configures the local HTTP API.
type Server struct {
	Addr      string  `toml:"addr,omitempty" json:"addr,omitempty"`
	Token     string  `toml:"token,omitempty" json:"-"`
	RateLimit float64 `toml:"rate_limit,omitempty" json:"rate_limit,omitempty"` // requests per second, 0 = unlimited
}

// Duration is a time.Duration written as a Go duration string ("36h").
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	return Config{
		LogLevel:       DefaultLogLevel,
		IgnorePatterns: []string{},
		StaleAfter:     Duration(DefaultStaleAfter),
		Server:         Server{Addr: DefaultServerAddr},
	}
}

// Dir returns the codesession config directory:
// $XDG_CONFIG_HOME/codesession or ~/.config/codesession.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "codesession"), nil
}

// GlobalPath returns the path of the global config file.
func GlobalPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// GlobalExists reports whether a global config file is present on disk.
func GlobalExists() bool {
	p, err := GlobalPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// LoadGlobal reads the global config file.
// Returns defaults if the file is absent.
func LoadGlobal() (*Config, error) {
	path, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return loadFile(path, true)
}

// LoadProject reads .codesession.toml in dir.
// Returns nil (no error) if the file is absent.
func LoadProject(dir string) (*Config, error) {
	return loadFile(filepath.Join(dir, ProjectFile), false)
}

// Load reads the global and project files and merges them.
func Load(dir string) (Config, error) {
	global, err := LoadGlobal()
	if err != nil {
		return Defaults(), err
	}
	project, err := LoadProject(dir)
	if err != nil {
		return Defaults(), err
	}
	cfg := Merge(global, project)
	return cfg, cfg.Validate()
}

// loadFile reads and parses a TOML config file at path.
// If returnDefaults is true, returns defaults when the file is absent.
// If returnDefaults is false, returns nil when the file is absent.
func loadFile(path string, returnDefaults bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if keys := md.Undecoded(); len(keys) > 0 {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("unknown key %q", keys[0].String())}
	}
	return &cfg, nil
}

// Save writes cfg to path as TOML, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return fmt.Errorf("encoding config: %w", err)
	}
	return f.Close()
}

// Merge combines global and project configs, with project taking precedence.
// Missing keys fall back to global, then defaults.
func Merge(global, project *Config) Config {
	result := Defaults()
	apply(&result, global)
	apply(&result, project)
	return result
}

func apply(dst, src *Config) {
	if src == nil {
		return
	}
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if len(src.IgnorePatterns) > 0 {
		dst.IgnorePatterns = src.IgnorePatterns
	}
	if src.PricingFile != "" {
		dst.PricingFile = src.PricingFile
	}
	if src.Budget != nil {
		b := *src.Budget
		dst.Budget = &b
	}
	if src.StaleAfter > 0 {
		dst.StaleAfter = src.StaleAfter
	}
	if src.Server.Addr != "" {
		dst.Server.Addr = src.Server.Addr
	}
	if src.Server.Token != "" {
		dst.Server.Token = src.Server.Token
	}
	if src.Server.RateLimit > 0 {
		dst.Server.RateLimit = src.Server.RateLimit
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Budget != nil && *c.Budget < 0 {
		return fmt.Errorf("budget must not be negative, got %v", *c.Budget)
	}
	if c.StaleAfter < 0 {
		return fmt.Errorf("stale_after must be positive, got %s", time.Duration(c.StaleAfter))
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative, got %v", c.Server.RateLimit)
	}
	return nil
}

// ResolveDataDir returns the configured data directory, else the XDG default.
func (c Config) ResolveDataDir(fallback func() (string, error)) (string, error) {
	if c.DataDir != "" {
		return expandHome(c.DataDir)
	}
	return fallback()
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

// ParseLevel maps a log level name to a slog.Level. Empty means warn.
func ParseLevel(s string) (slog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return slog.LevelWarn, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q (want debug, info, warn or error)", s)
	}
	return l, nil
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
