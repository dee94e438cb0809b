package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/brian-mwirigi/codesession/internal/session"
	"github.com/brian-mwirigi/codesession/internal/tui"
)

var budgetOpts struct {
	session int64
	check   float64
}

// budgetReport is the --json shape of budget.
type budgetReport struct {
	SessionID  int64    `json:"session_id"`
	Spent      float64  `json:"spent"`
	Ceiling    *float64 `json:"ceiling,omitempty"`
	Remaining  *float64 `json:"remaining,omitempty"`
	Check      *float64 `json:"check,omitempty"`
	Affordable *bool    `json:"affordable,omitempty"`
}

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show the session's spend against its budget ceiling",
	Long: `Show what the session has spent and how much of the configured ceiling is
left. With --check COST, report whether COST can be spent without crossing
the ceiling; nothing is recorded and the command exits non-zero when it
cannot.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		checking := cmd.Flags().Changed("check")
		if checking && budgetOpts.check < 0 {
			return session.InvalidInput("--check must not be negative")
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			id := budgetOpts.session
			if id == 0 {
				s, err := a.ctl.Active(ctx, a.dir)
				if err != nil {
					return err
				}
				id = s.ID
			}
			spent, err := a.store.Spent(ctx, id)
			if err != nil {
				return err
			}
			r := budgetReport{SessionID: id, Spent: spent, Ceiling: a.ctl.Ledger().Ceiling()}
			if r.Ceiling != nil {
				left := session.RoundCost(*r.Ceiling - spent)
				if left < 0 {
					left = 0
				}
				r.Remaining = &left
			}
			if checking {
				ok, err := a.ctl.CanAfford(ctx, a.target(id), budgetOpts.check)
				if err != nil {
					return err
				}
				r.Check, r.Affordable = &budgetOpts.check, &ok
			}

			if jsonOutput {
				if err := printJSON(cmd, r); err != nil {
					return err
				}
			} else {
				printf(cmd, "Session #%d spent %s", id, tui.FormatCost(spent))
				if r.Ceiling != nil {
					printf(cmd, " of %s (%s left)", tui.FormatCost(*r.Ceiling), tui.FormatCost(*r.Remaining))
				} else {
					printf(cmd, " (no ceiling set)")
				}
				printf(cmd, ".\n")
			}
			if checking && !*r.Affordable {
				// Affordable is only false when a ceiling is set.
				return session.BudgetExceeded(spent, *r.Ceiling, budgetOpts.check)
			}
			return nil
		})
	},
}

func init() {
	budgetCmd.Flags().Int64Var(&budgetOpts.session, "session", 0, "session id (default: the active session in this directory)")
	budgetCmd.Flags().Float64Var(&budgetOpts.check, "check", 0, "cost to test against the remaining budget")
	rootCmd.AddCommand(budgetCmd)
}
