package cmd

import (
	"context"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/brian-mwirigi/codesession/internal/session"
	"github.com/brian-mwirigi/codesession/internal/store"
	"github.com/brian-mwirigi/codesession/internal/tui"
)

var showPlain bool

var showCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a session's full history",
	Long: `Show a session together with its file changes, commits, AI usage and
notes. Without an id, shows the active session in this directory, else the
most recent session. On a terminal this opens an interactive viewer; use
--plain for text output.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var id int64
		if len(args) == 1 {
			v, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || v <= 0 {
				return session.InvalidInput("invalid session id %q", args[0])
			}
			id = v
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if id == 0 {
				var err error
				if id, err = defaultSessionID(ctx, a); err != nil {
					return err
				}
			}
			d, err := a.store.Detail(ctx, id)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, d)
			}
			if showPlain || !interactive() {
				printDetail(cmd, d)
				return nil
			}
			repo := d.Session.Slot()
			showCommit := func(ctx context.Context, hash string) (string, error) {
				return a.git.ShowCommit(ctx, repo, hash)
			}
			var fileDiff tui.DiffFunc
			if head := d.Session.GitHead; head != "" {
				fileDiff = func(ctx context.Context, path string) (string, error) {
					return a.git.Diff(ctx, repo, head, "", path)
				}
			}
			return tui.Run(d, showCommit, fileDiff)
		})
	},
}

// defaultSessionID picks the active session in the slot, else the newest
// session overall.
func defaultSessionID(ctx context.Context, a *app) (int64, error) {
	s, err := a.ctl.Active(ctx, a.dir)
	if err == nil {
		return s.ID, nil
	}
	if !session.IsCode(err, session.CodeNotFound) {
		return 0, err
	}
	latest, _, err := a.store.ListSessions(ctx, store.ListFilter{Limit: 1})
	if err != nil {
		return 0, err
	}
	if len(latest) == 0 {
		return 0, session.NotFound("no sessions recorded yet")
	}
	return latest[0].ID, nil
}

func printDetail(cmd *cobra.Command, d *session.Detail) {
	s := &d.Session
	printf(cmd, "Session #%d %q [%s]\n", s.ID, s.Name, s.Status)
	printf(cmd, "  %s %s\n", tui.Label("Dir:"), s.WorkDir)
	if s.GitBranch != "" {
		printf(cmd, "  %s %s @ %s\n", tui.Label("Branch:"), s.GitBranch, tui.ShortHash(s.GitHead))
	}
	printf(cmd, "  %s %s\n", tui.Label("Started:"), s.StartTime.Local().Format(time.RFC3339))
	if s.EndTime != nil {
		printf(cmd, "  %s %s\n", tui.Label("Ended:"), s.EndTime.Local().Format(time.RFC3339))
	}
	printf(cmd, "  %s %s\n", tui.Label("Duration:"), tui.FormatDuration(s.Elapsed(time.Now())))
	printf(cmd, "  %s %s (%d tokens)\n", tui.Label("AI cost:"), tui.FormatCost(s.AICost), s.AITokens)
	if s.Notes != "" {
		printf(cmd, "  %s %s\n", tui.Label("Notes:"), s.Notes)
	}

	if len(d.FileChanges) > 0 {
		printf(cmd, "\nFiles (%d changes)\n", len(d.FileChanges))
		for _, f := range d.FileChanges {
			printf(cmd, "  %s  %-8s %s\n", f.Timestamp.Local().Format("15:04:05"), f.Kind, f.Path)
		}
	}
	if len(d.Commits) > 0 {
		printf(cmd, "\nCommits (%d)\n", len(d.Commits))
		for _, c := range d.Commits {
			printf(cmd, "  %s  %s %s\n", c.Timestamp.Local().Format("15:04:05"), tui.ShortHash(c.Hash), c.Message)
		}
	}
	if len(d.AIUsage) > 0 {
		printf(cmd, "\nAI usage (%d calls)\n", len(d.AIUsage))
		for _, u := range d.AIUsage {
			printf(cmd, "  %s  %s/%s %d tokens %s\n", u.Timestamp.Local().Format("15:04:05"),
				u.Provider, u.Model, u.Tokens, tui.FormatCost(u.Cost))
		}
	}
	if len(d.Notes) > 0 {
		printf(cmd, "\nNotes (%d)\n", len(d.Notes))
		for _, n := range d.Notes {
			printf(cmd, "  %s  %s\n", n.Timestamp.Local().Format("15:04:05"), n.Message)
		}
	}
}

func init() {
	showCmd.Flags().BoolVar(&showPlain, "plain", false, "print text instead of opening the interactive viewer")
	rootCmd.AddCommand(showCmd)
}
