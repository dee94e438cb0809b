package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/brian-mwirigi/codesession/internal/session"
	"github.com/brian-mwirigi/codesession/internal/tui"
)

var statusAll bool

// statusReport is the --json shape of status for one session.
type statusReport struct {
	Active    bool             `json:"active"`
	Session   *session.Session `json:"session,omitempty"`
	Elapsed   int64            `json:"elapsed_seconds,omitempty"`
	Notes     int              `json:"notes"`
	AICalls   int              `json:"ai_calls"`
	Ceiling   *float64         `json:"ceiling,omitempty"`
	Remaining *float64         `json:"remaining,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active session in this directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if statusAll {
				return statusOfAll(ctx, cmd, a)
			}
			s, err := a.ctl.Active(ctx, a.dir)
			if session.IsCode(err, session.CodeNotFound) {
				if jsonOutput {
					return printJSON(cmd, statusReport{Active: false})
				}
				printf(cmd, "no active session\n")
				return nil
			}
			if err != nil {
				return err
			}
			r, err := buildStatus(ctx, a, s)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, r)
			}
			printStatus(cmd, r)
			return nil
		})
	},
}

func buildStatus(ctx context.Context, a *app, s *session.Session) (statusReport, error) {
	d, err := a.store.Detail(ctx, s.ID)
	if err != nil {
		return statusReport{}, err
	}
	r := statusReport{
		Active:  true,
		Session: &d.Session,
		Elapsed: int64(d.Session.Elapsed(time.Now()) / time.Second),
		Notes:   len(d.Notes),
		AICalls: len(d.AIUsage),
	}
	if c := a.ctl.Ledger().Ceiling(); c != nil {
		left := session.RoundCost(*c - d.Session.AICost)
		if left < 0 {
			left = 0
		}
		r.Ceiling, r.Remaining = c, &left
	}
	return r, nil
}

func printStatus(cmd *cobra.Command, r statusReport) {
	s := r.Session
	printf(cmd, "Session #%d %q\n", s.ID, s.Name)
	printf(cmd, "  %s %s\n", tui.Label("Dir:"), s.Slot())
	if s.GitBranch != "" {
		printf(cmd, "  %s %s\n", tui.Label("Branch:"), s.GitBranch)
	}
	printf(cmd, "  %s %s\n", tui.Label("Started:"), s.StartTime.Local().Format(time.RFC3339))
	printf(cmd, "  %s %s\n", tui.Label("Duration:"), tui.FormatDuration(time.Duration(r.Elapsed)*time.Second))
	printf(cmd, "  %s %d\n", tui.Label("Files:"), s.FileCount)
	printf(cmd, "  %s %d\n", tui.Label("Commits:"), s.Commits)
	printf(cmd, "  %s %d\n", tui.Label("Notes:"), r.Notes)
	printf(cmd, "  %s %s (%d tokens, %d calls)\n", tui.Label("AI cost:"), tui.FormatCost(s.AICost), s.AITokens, r.AICalls)
	if r.Ceiling != nil {
		printf(cmd, "  %s %s of %s left\n", tui.Label("Budget:"), tui.FormatCost(*r.Remaining), tui.FormatCost(*r.Ceiling))
	}
}

func statusOfAll(ctx context.Context, cmd *cobra.Command, a *app) error {
	active, err := a.store.ActiveSessions(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		if active == nil {
			active = []session.Session{}
		}
		return printJSON(cmd, active)
	}
	if len(active) == 0 {
		printf(cmd, "no active sessions\n")
		return nil
	}
	now := time.Now()
	rows := make([][]string, 0, len(active))
	for i := range active {
		s := &active[i]
		rows = append(rows, []string{
			itoa(s.ID), s.Name, s.Slot(),
			tui.FormatDuration(s.Elapsed(now)), itoa(s.FileCount), itoa(s.Commits), tui.FormatCost(s.AICost),
		})
	}
	printf(cmd, "%s\n", tui.Table([]string{"ID", "Name", "Dir", "Elapsed", "Files", "Commits", "AI cost"}, rows))
	return nil
}

func init() {
	statusCmd.Flags().BoolVarP(&statusAll, "all", "a", false, "list active sessions in every directory")
	rootCmd.AddCommand(statusCmd)
}
