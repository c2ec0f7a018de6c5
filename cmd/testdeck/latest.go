package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newLatestCmd(root *rootFlags) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "latest [test-id]",
		Short: "Show the step summary of the most recent report",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx, cmd, root)
			if err != nil {
				return err
			}
			defer app.Close()

			var testID string
			if len(args) == 1 {
				testID = args[0]
			}

			latest, err := app.svc.LatestReport(ctx, testID)
			if err != nil {
				return newCommandError("show latest report", "querying the report store", err, "Check database.driver and database.dsn.")
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), latest)
			}
			if len(latest.Steps) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No reports stored.")
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Report #%d (%s)\n", latest.ReportID, latest.Path)
			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "#\tSTEP\tSTATUS\tDURATION")
			for _, s := range latest.Steps {
				fmt.Fprintf(writer, "%d\t%s\t%s\t%s\n", s.Index, s.Name, statusText(s.Status), formatSeconds(s.Duration))
			}
			return writer.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}
