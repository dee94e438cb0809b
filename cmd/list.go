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

var listOpts struct {
	status string
	search string
	limit  int
	offset int
}

// listPage is the --json shape of list.
type listPage struct {
	Sessions []session.Session `json:"sessions"`
	Total    int64             `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List sessions, newest first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := listFilter()
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			sessions, total, err := a.store.ListSessions(ctx, f)
			if err != nil {
				return err
			}
			if sessions == nil {
				sessions = []session.Session{}
			}
			if jsonOutput {
				return printJSON(cmd, listPage{Sessions: sessions, Total: total, Limit: f.Limit, Offset: f.Offset})
			}
			if len(sessions) == 0 {
				printf(cmd, "No sessions.\n")
				return nil
			}
			now := time.Now()
			rows := make([][]string, 0, len(sessions))
			for i := range sessions {
				s := &sessions[i]
				rows = append(rows, []string{
					itoa(s.ID), s.Name, string(s.Status), s.StartTime.Local().Format("2006-01-02 15:04"),
					tui.FormatDuration(s.Elapsed(now)), itoa(s.FileCount), itoa(s.Commits), tui.FormatCost(s.AICost),
				})
			}
			printf(cmd, "%s\n", tui.Table([]string{"ID", "Name", "Status", "Started", "Duration", "Files", "Commits", "AI cost"}, rows))
			printf(cmd, "%s\n", tui.Dim("Showing "+strconv.Itoa(len(sessions))+" of "+itoa(total)+"."))
			return nil
		})
	},
}

func listFilter() (store.ListFilter, error) {
	f := store.ListFilter{
		Search: listOpts.search,
		Limit:  listOpts.limit,
		Offset: listOpts.offset,
	}
	switch session.Status(listOpts.status) {
	case "", "all":
	case session.StatusActive, session.StatusCompleted:
		f.Status = session.Status(listOpts.status)
	default:
		return f, session.InvalidInput("unknown status %q (want active, completed or all)", listOpts.status)
	}
	if f.Limit < 0 || f.Offset < 0 {
		return f, session.InvalidInput("--limit and --offset must not be negative")
	}
	return f, nil
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

func init() {
	f := listCmd.Flags()
	f.StringVar(&listOpts.status, "status", "", "filter by status: active, completed or all")
	f.StringVarP(&listOpts.search, "search", "s", "", "match name, directory or notes")
	f.IntVarP(&listOpts.limit, "limit", "n", 20, "page size (0 for all)")
	f.IntVar(&listOpts.offset, "offset", 0, "skip this many sessions")
	rootCmd.AddCommand(listCmd)
}
