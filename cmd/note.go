package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
)

var noteSession int64

var noteCmd = &cobra.Command{
	Use:   "note <message>",
	Short: "Add a note to the active session",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			n, err := a.ctl.Note(ctx, a.target(noteSession), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, n)
			}
			printf(cmd, "Note added to session #%d.\n", n.SessionID)
			return nil
		})
	},
}

func init() {
	noteCmd.Flags().Int64Var(&noteSession, "session", 0, "session id (default: the active session in this directory)")
	rootCmd.AddCommand(noteCmd)
}
