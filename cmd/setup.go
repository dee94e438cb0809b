package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brian-mwirigi/codesession/internal/config"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Configure codesession (re-run anytime to edit settings)",
	// Bypass the normal PersistentPreRunE so setup works before a config exists.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Args:              cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetup(cmd, false)
	},
}

// runSetup runs the interactive setup wizard and writes the global config.
// If firstRun is true, a short hint about re-running is shown.
func runSetup(cmd *cobra.Command, firstRun bool) error {
	out := cmd.OutOrStdout()
	if firstRun {
		fmt.Fprintln(out, "  Press enter to accept a default. Re-run 'codesession setup' anytime.")
		fmt.Fprintln(out)
	}

	// Load the existing global config as defaults if present.
	var existing *config.Config
	if config.GlobalExists() {
		c, err := config.LoadGlobal()
		if err == nil {
			existing = c
		}
	}

	c, err := config.RunSetup(cmd.InOrStdin(), out, existing)
	if err != nil {
		return fmt.Errorf("setup cancelled: %w", err)
	}

	path, err := config.GlobalPath()
	if err != nil {
		return err
	}
	if err := config.Save(path, c); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	fmt.Fprintf(out, "  ✓ Config saved to %s.\n", path)
	fmt.Fprintln(out, "  Setup complete. Run 'codesession start' to begin a session.")
	fmt.Fprintln(out)
	return nil
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
