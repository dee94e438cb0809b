package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/brian-mwirigi/codesession/internal/ledger"
	"github.com/brian-mwirigi/codesession/internal/tui"
)

var logAIOpts struct {
	session          int64
	model            string
	provider         string
	tokens           int64
	promptTokens     int64
	completionTokens int64
	cost             float64
}

var logAICmd = &cobra.Command{
	Use:   "log-ai",
	Short: "Record an AI call against the active session",
	Long: `Record one AI-assistant call. Give --cost directly, or a token split
(--prompt-tokens and --completion-tokens) for a model with known pricing and
the cost is estimated. --tokens defaults to the sum of the split.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		u := ledger.Usage{
			Model:    logAIOpts.model,
			Provider: logAIOpts.provider,
		}
		f := cmd.Flags()
		if f.Changed("tokens") {
			u.Tokens = &logAIOpts.tokens
		}
		if f.Changed("prompt-tokens") {
			u.PromptTokens = &logAIOpts.promptTokens
		}
		if f.Changed("completion-tokens") {
			u.CompletionTokens = &logAIOpts.completionTokens
		}
		if f.Changed("cost") {
			u.Cost = &logAIOpts.cost
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			res, err := a.ctl.LogUsage(ctx, a.target(logAIOpts.session), u)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, res)
			}
			how := ""
			if res.Estimated {
				how = " (estimated)"
			}
			printf(cmd, "Logged %d tokens of %s%s for %s%s.\n",
				res.Usage.Tokens, res.Usage.Model, providerSuffix(res.Usage.Provider),
				tui.FormatCost(res.Usage.Cost), how)
			printf(cmd, "  %s %s (%d tokens)\n", tui.Label("Session total:"), tui.FormatCost(res.Totals.Cost), res.Totals.Tokens)
			if res.Remaining != nil {
				printf(cmd, "  %s %s\n", tui.Label("Budget left:"), tui.FormatCost(*res.Remaining))
			}
			if res.AutoEnded {
				printf(cmd, "Budget ceiling reached; session #%d ended.\n", res.Usage.SessionID)
			}
			return nil
		})
	},
}

func providerSuffix(p string) string {
	if p == "" {
		return ""
	}
	return " via " + p
}

func init() {
	f := logAICmd.Flags()
	f.Int64Var(&logAIOpts.session, "session", 0, "session id (default: the active session in this directory)")
	f.StringVar(&logAIOpts.model, "model", "", "model name (required)")
	f.StringVar(&logAIOpts.provider, "provider", "", "provider label (default: guessed from the model)")
	f.Int64Var(&logAIOpts.tokens, "tokens", 0, "total tokens")
	f.Int64Var(&logAIOpts.promptTokens, "prompt-tokens", 0, "prompt (input) tokens")
	f.Int64Var(&logAIOpts.completionTokens, "completion-tokens", 0, "completion (output) tokens")
	f.Float64Var(&logAIOpts.cost, "cost", 0, "cost in dollars (default: estimated from pricing)")
	_ = logAICmd.MarkFlagRequired("model")
	rootCmd.AddCommand(logAICmd)
}
