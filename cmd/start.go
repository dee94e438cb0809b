package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brian-mwirigi/codesession/internal/lifecycle"
	"github.com/brian-mwirigi/codesession/internal/tui"
)

var (
	startResume     bool
	startCloseStale bool
	startWatch      bool
)

var startCmd = &cobra.Command{
	Use:   "start [name]",
	Short: "Begin a tracking session in this directory",
	Long: `Begin a tracking session scoped to this directory, or to the repository
root when inside a git repository. Only one session may be active per
directory; use --resume to reattach to it or --close-stale to end every
active session first.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			res, err := a.ctl.Start(ctx, lifecycle.StartOptions{
				Name:       strings.Join(args, " "),
				Dir:        a.dir,
				Resume:     startResume,
				CloseStale: startCloseStale,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := printJSON(cmd, res); err != nil {
					return err
				}
			} else {
				for _, c := range res.Closed {
					printf(cmd, "Closed session #%d %q after %s.\n", c.ID, c.Name, tui.FormatDuration(c.Elapsed(c.StartTime)))
				}
				s := res.Session
				verb := "started"
				if res.Resumed {
					verb = "resumed"
				}
				printf(cmd, "Session #%d %q %s in %s.\n", s.ID, s.Name, verb, s.Slot())
				if s.GitBranch != "" {
					printf(cmd, "  %s %s @ %s\n", tui.Label("Branch:"), s.GitBranch, tui.ShortHash(s.GitHead))
				}
			}

			if !startWatch {
				return nil
			}
			return runWatch(ctx, cmd, a, res.Session)
		})
	},
}

func init() {
	startCmd.Flags().BoolVar(&startResume, "resume", false, "reattach to the active session in this directory if there is one")
	startCmd.Flags().BoolVar(&startCloseStale, "close-stale", false, "end every active session before starting")
	startCmd.Flags().BoolVarP(&startWatch, "watch", "w", false, "keep running and record file changes and commits")
	rootCmd.AddCommand(startCmd)
}
