package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/brian-mwirigi/codesession/internal/config"
	"github.com/brian-mwirigi/codesession/internal/session"
)

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

// logger is the process logger, configured in PersistentPreRunE.
var logger = slog.Default()

// Global flags.
var (
	jsonOutput  bool
	logLevel    string
	workDir     string
	dataDirFlag string
)

var rootCmd = &cobra.Command{
	Use:           "codesession",
	Short:         "Track coding sessions: time, files, commits and AI spend",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup check for the setup command itself.
		if cmd.Name() != "setup" && !config.GlobalExists() && !jsonOutput && interactive() {
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), "  Welcome to codesession! Looks like this is your first time.")
			if err := runSetup(cmd, true); err != nil {
				return err
			}
		}

		dir, err := resolveWorkDir()
		if err != nil {
			return err
		}
		cfg, err = config.Load(dir)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		levelName := cfg.LogLevel
		if logLevel != "" {
			levelName = logLevel
		}
		level, err := config.ParseLevel(levelName)
		if err != nil {
			return session.InvalidInput("%v", err)
		}
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&jsonOutput, "json", false, "print machine-readable JSON")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVarP(&workDir, "dir", "C", "", "run as if started in this directory")
	pf.StringVar(&dataDirFlag, "data-dir", "", "override the data directory")
}

// interactive reports whether both stdin and stdout are terminals.
func interactive() bool {
	return term.IsTerminal(os.Stdin.Fd()) && term.IsTerminal(os.Stdout.Fd())
}

func resolveWorkDir() (string, error) {
	if workDir != "" {
		return workDir, nil
	}
	return os.Getwd()
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cmd, err := rootCmd.ExecuteContextC(ctx)
	stop()
	if err != nil {
		if cmd == nil {
			cmd = rootCmd
		}
		reportError(cmd, err)
		os.Exit(1)
	}
}

// reportError prints err as text on stderr, or as the structured error
// envelope on stdout in --json mode.
func reportError(cmd *cobra.Command, err error) {
	if !jsonOutput {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return
	}
	e, ok := session.AsError(err)
	if !ok {
		e = &session.Error{Code: session.CodeInternal, Message: err.Error()}
	}
	printJSON(cmd, struct {
		Error *session.Error `json:"error"`
	}{e})
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
