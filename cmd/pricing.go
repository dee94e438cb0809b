package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brian-mwirigi/codesession/internal/ledger"
	"github.com/brian-mwirigi/codesession/internal/session"
	"github.com/brian-mwirigi/codesession/internal/tui"
)

var pricingCmd = &cobra.Command{
	Use:   "pricing",
	Short: "Show or edit model pricing",
}

var pricingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known models and their prices per million tokens",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := ledger.LoadPricing(pricingPath(), logger)
		if jsonOutput {
			return printJSON(cmd, p)
		}
		models := p.Models()
		rows := make([][]string, 0, len(models))
		for _, m := range models {
			price := p[m]
			rows = append(rows, []string{m, ledger.ProviderFor(m), fmt.Sprintf("$%.2f", price.Input), fmt.Sprintf("$%.2f", price.Output)})
		}
		printf(cmd, "%s\n", tui.Table([]string{"Model", "Provider", "Input", "Output"}, rows))
		printf(cmd, "%s\n", tui.Dim("Overrides: "+pricingPath()))
		return nil
	},
}

var pricingEstimateOpts struct {
	prompt     int64
	completion int64
}

var pricingEstimateCmd = &cobra.Command{
	Use:   "estimate <model>",
	Short: "Estimate the cost of a call from its token split",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o := pricingEstimateOpts
		if o.prompt < 0 || o.completion < 0 {
			return session.InvalidInput("token counts must not be negative")
		}
		p := ledger.LoadPricing(pricingPath(), logger)
		cost, ok := p.Estimate(args[0], o.prompt, o.completion)
		if !ok {
			return &session.Error{Code: session.CodeUnknownModel, Message: fmt.Sprintf("no pricing for model %q", args[0])}
		}
		if jsonOutput {
			return printJSON(cmd, map[string]any{
				"model":             args[0],
				"prompt_tokens":     o.prompt,
				"completion_tokens": o.completion,
				"cost":              cost,
			})
		}
		printf(cmd, "%s\n", tui.FormatCost(cost))
		return nil
	},
}

var pricingSetOpts struct {
	input  float64
	output float64
}

var pricingSetCmd = &cobra.Command{
	Use:   "set <model>",
	Short: "Override a model's price per million tokens",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := pricingPath()
		if path == "" {
			return fmt.Errorf("no pricing file location; set pricing_file in config")
		}
		price := ledger.Price{Input: pricingSetOpts.input, Output: pricingSetOpts.output}
		if err := ledger.SetOverride(path, args[0], price); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, map[string]any{"model": strings.ToLower(args[0]), "price": price, "path": path})
		}
		printf(cmd, "Saved %s to %s.\n", args[0], path)
		return nil
	},
}

func init() {
	pricingEstimateCmd.Flags().Int64Var(&pricingEstimateOpts.prompt, "prompt", 0, "prompt (input) tokens")
	pricingEstimateCmd.Flags().Int64Var(&pricingEstimateOpts.completion, "completion", 0, "completion (output) tokens")

	pricingSetCmd.Flags().Float64Var(&pricingSetOpts.input, "input", 0, "price per million prompt tokens")
	pricingSetCmd.Flags().Float64Var(&pricingSetOpts.output, "output", 0, "price per million completion tokens")
	_ = pricingSetCmd.MarkFlagRequired("input")
	_ = pricingSetCmd.MarkFlagRequired("output")

	pricingCmd.AddCommand(pricingListCmd, pricingEstimateCmd, pricingSetCmd)
	rootCmd.AddCommand(pricingCmd)
}
