package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/brian-mwirigi/codesession/internal/store"
	"github.com/brian-mwirigi/codesession/internal/tui"
)

var statsDays int

// statsReport is the --json shape of stats.
type statsReport struct {
	Totals    *store.Stats          `json:"totals"`
	Daily     []store.DailyPoint    `json:"daily"`
	Models    []store.ModelUsage    `json:"models"`
	Providers []store.ProviderUsage `json:"providers"`
	Hotspots  []store.Hotspot       `json:"hotspots"`
	Projects  []store.ProjectRollup `json:"projects"`
	Ratios    []store.TokenRatio    `json:"token_ratios"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show totals and AI spend across sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			r, err := collectStats(ctx, a.store, statsDays)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, r)
			}
			printStats(cmd, r)
			return nil
		})
	},
}

func collectStats(ctx context.Context, st *store.Store, days int) (*statsReport, error) {
	var (
		r   statsReport
		err error
	)
	if r.Totals, err = st.GetStats(ctx); err != nil {
		return nil, err
	}
	if r.Daily, err = st.DailyCost(ctx, days); err != nil {
		return nil, err
	}
	if r.Models, err = st.ModelBreakdown(ctx); err != nil {
		return nil, err
	}
	if r.Providers, err = st.ProviderBreakdown(ctx); err != nil {
		return nil, err
	}
	if r.Hotspots, err = st.FileHotspots(ctx, 10); err != nil {
		return nil, err
	}
	if r.Projects, err = st.Projects(ctx); err != nil {
		return nil, err
	}
	if r.Ratios, err = st.TokenRatios(ctx); err != nil {
		return nil, err
	}
	return &r, nil
}

func printStats(cmd *cobra.Command, r *statsReport) {
	t := r.Totals
	printf(cmd, "Completed sessions: %d\n", t.TotalSessions)
	printf(cmd, "  %s %s (avg %s)\n", tui.Label("Time:"),
		tui.FormatDuration(time.Duration(t.TotalDuration)*time.Second),
		tui.FormatDuration(time.Duration(t.AvgDuration*float64(time.Second))))
	printf(cmd, "  %s %d   %s %d\n", tui.Label("Files:"), t.TotalFiles, tui.Label("Commits:"), t.TotalCommits)
	printf(cmd, "  %s %s (avg %s, %d tokens)\n", tui.Label("AI cost:"),
		tui.FormatCost(t.TotalCost), tui.FormatCost(t.AvgCost), t.TotalTokens)

	if len(r.Models) > 0 {
		rows := make([][]string, 0, len(r.Models))
		for _, m := range r.Models {
			rows = append(rows, []string{m.Provider, m.Model, itoa(m.Calls), itoa(m.Tokens), tui.FormatCost(m.Cost)})
		}
		printf(cmd, "\n%s\n", tui.Table([]string{"Provider", "Model", "Calls", "Tokens", "Cost"}, rows))
	}
	if len(r.Daily) > 0 {
		rows := make([][]string, 0, len(r.Daily))
		for _, d := range r.Daily {
			rows = append(rows, []string{d.Day, itoa(d.Sessions), itoa(d.Calls), itoa(d.Tokens), tui.FormatCost(d.Cost)})
		}
		printf(cmd, "\n%s\n", tui.Table([]string{"Day (UTC)", "Sessions", "Calls", "Tokens", "Cost"}, rows))
	}
	if len(r.Hotspots) > 0 {
		rows := make([][]string, 0, len(r.Hotspots))
		for _, h := range r.Hotspots {
			rows = append(rows, []string{h.Path, itoa(h.Changes), itoa(h.Sessions)})
		}
		printf(cmd, "\n%s\n", tui.Table([]string{"File", "Changes", "Sessions"}, rows))
	}
}

func init() {
	statsCmd.Flags().IntVar(&statsDays, "days", 30, "days of daily spend to include")
	rootCmd.AddCommand(statsCmd)
}
