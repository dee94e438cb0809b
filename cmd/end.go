package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/brian-mwirigi/codesession/internal/tui"
)

var (
	endSession int64
	endNotes   string
)

var endCmd = &cobra.Command{
	Use:     "end",
	Aliases: []string{"stop"},
	Short:   "End the active session",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			s, err := a.ctl.End(ctx, a.target(endSession), endNotes)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, s)
			}
			printf(cmd, "Session #%d %q ended.\n", s.ID, s.Name)
			printf(cmd, "  %s %s\n", tui.Label("Duration:"), tui.FormatDuration(time.Duration(s.Duration)*time.Second))
			printf(cmd, "  %s %d   %s %d\n", tui.Label("Files:"), s.FileCount, tui.Label("Commits:"), s.Commits)
			printf(cmd, "  %s %s (%d tokens)\n", tui.Label("AI cost:"), tui.FormatCost(s.AICost), s.AITokens)
			return nil
		})
	},
}

func init() {
	endCmd.Flags().Int64Var(&endSession, "session", 0, "session id (default: the active session in this directory)")
	endCmd.Flags().StringVarP(&endNotes, "notes", "m", "", "notes to attach when ending")
	rootCmd.AddCommand(endCmd)
}
