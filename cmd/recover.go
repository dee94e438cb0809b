package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/brian-mwirigi/codesession/internal/session"
)

var recoverMaxAge time.Duration

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "End active sessions that have been running too long",
	Long: `End every active session older than --max-age (default: stale_after from
config, 24h unless set). Recovered sessions get an auto-recovery note.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		maxAge := recoverMaxAge
		if !cmd.Flags().Changed("max-age") {
			maxAge = time.Duration(cfg.StaleAfter)
		}
		if maxAge < 0 {
			return session.InvalidInput("--max-age must not be negative")
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			recovered, err := a.ctl.Recover(ctx, maxAge)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, recovered)
			}
			if len(recovered) == 0 {
				printf(cmd, "No stale sessions.\n")
				return nil
			}
			for _, s := range recovered {
				printf(cmd, "Recovered session #%d %q (started %s).\n", s.ID, s.Name, s.StartTime.Local().Format(time.RFC3339))
			}
			return nil
		})
	},
}

func init() {
	recoverCmd.Flags().DurationVar(&recoverMaxAge, "max-age", 0, "age past which an active session is stale")
	rootCmd.AddCommand(recoverCmd)
}
