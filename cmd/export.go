package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brian-mwirigi/codesession/internal/export"
)

var exportOpts struct {
	format string
	output string
	limit  int
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export sessions as JSON, CSV or Markdown",
	Long: `Export sessions, newest first. The format comes from --format, else the
extension of --output, else JSON. Without --output the export is written to
stdout.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name := exportOpts.format
		if name == "" && exportOpts.output != "" {
			name = strings.TrimPrefix(filepath.Ext(exportOpts.output), ".")
		}
		format, err := export.ParseFormat(name)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if exportOpts.output == "" {
				return a.store.ExportSessions(ctx, cmd.OutOrStdout(), format, exportOpts.limit)
			}
			var buf bytes.Buffer
			if err := a.store.ExportSessions(ctx, &buf, format, exportOpts.limit); err != nil {
				return err
			}
			if err := os.WriteFile(exportOpts.output, buf.Bytes(), 0o644); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, map[string]string{"path": exportOpts.output, "format": string(format)})
			}
			printf(cmd, "Exported to %s.\n", exportOpts.output)
			return nil
		})
	},
}

func init() {
	f := exportCmd.Flags()
	f.StringVarP(&exportOpts.format, "format", "f", "", "json, csv or markdown")
	f.StringVarP(&exportOpts.output, "output", "o", "", "write to this file instead of stdout")
	f.IntVarP(&exportOpts.limit, "limit", "n", 0, "export only the newest N sessions (0 for all)")
	rootCmd.AddCommand(exportCmd)
}
