package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// RunSetup runs the interactive setup wizard on in/out and returns the
// resulting config. If existing is non-nil, it is used as the default for
// each prompt (edit mode). Invalid answers are asked again.
func RunSetup(in io.Reader, out io.Writer, existing *Config) (*Config, error) {
	r := bufio.NewReader(in)

	ask := func(prompt, defaultVal string) (string, error) {
		if defaultVal != "" {
			fmt.Fprintf(out, "%s [%s]: ", prompt, defaultVal)
		} else {
			fmt.Fprintf(out, "%s: ", prompt)
		}
		line, err := r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return defaultVal, nil
		}
		return line, nil
	}

	// askValid repeats the prompt until check accepts the answer.
	askValid := func(prompt, defaultVal string, check func(string) error) (string, error) {
		for {
			ans, err := ask(prompt, defaultVal)
			if err != nil {
				return "", err
			}
			if err := check(ans); err != nil {
				fmt.Fprintf(out, "  ✗ %v\n", err)
				continue
			}
			return ans, nil
		}
	}

	cfg := Defaults()
	if existing != nil {
		cfg = Merge(existing, nil)
		cfg.Server.Token = existing.Server.Token
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "  ┌──────────────────────────────────┐")
	fmt.Fprintln(out, "  │   codesession · configuration    │")
	fmt.Fprintln(out, "  └──────────────────────────────────┘")
	fmt.Fprintln(out)

	var err error

	cfg.DataDir, err = ask("  Data directory (blank for default)", cfg.DataDir)
	if err != nil {
		return nil, err
	}

	cfg.LogLevel, err = askValid("  Log level (debug/info/warn/error)", cfg.LogLevel, func(s string) error {
		_, err := ParseLevel(s)
		return err
	})
	if err != nil {
		return nil, err
	}

	budget := ""
	if cfg.Budget != nil {
		budget = strconv.FormatFloat(*cfg.Budget, 'f', -1, 64)
	}
	budget, err = askValid("  Per-session AI budget in USD (blank for none)", budget, func(s string) error {
		if s == "" || s == "none" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 {
			return fmt.Errorf("budget must be a non-negative number")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	cfg.Budget = nil
	if budget != "" && budget != "none" {
		v, _ := strconv.ParseFloat(budget, 64)
		cfg.Budget = &v
	}

	stale, err := askValid("  Recover sessions left open longer than", time.Duration(cfg.StaleAfter).String(), func(s string) error {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return fmt.Errorf("want a positive duration such as 24h")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	d, _ := time.ParseDuration(stale)
	cfg.StaleAfter = Duration(d)

	cfg.Server.Addr, err = ask("  Dashboard API listen address", cfg.Server.Addr)
	if err != nil {
		return nil, err
	}

	fmt.Fprintln(out)
	return &cfg, nil
}
