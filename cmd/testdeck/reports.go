package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newReportsCmd(root *rootFlags) *cobra.Command {
	var (
		parent     string
		history    string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List stored reports, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx, cmd, root)
			if err != nil {
				return err
			}
			defer app.Close()

			if history != "" {
				return renderHistory(cmd, app, history, jsonOutput)
			}

			reports, err := app.svc.AllReports(ctx, parent)
			if err != nil {
				return newCommandError("list reports", "querying the report store", err, "Check database.driver and database.dsn.")
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), reports)
			}
			if len(reports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No reports stored.")
				return nil
			}

			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "ID\tTEST\tSTATUS\tDURATION\tCREATED\tPATH")
			for _, r := range reports {
				fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.TestID, statusText(r.Status), formatSeconds(r.TotalDuration),
					r.CreatedAt.Local().Format(time.DateTime), r.Path)
			}
			return writer.Flush()
		},
	}

	cmd.Flags().StringVar(&parent, "parent", "", "Only reports whose parent test name matches")
	cmd.Flags().StringVar(&history, "history", "", "List the report ids stored for one test id, newest first")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

func renderHistory(cmd *cobra.Command, app *appContext, testID string, jsonOutput bool) error {
	history, err := app.svc.History(cmd.Context(), testID)
	if err != nil {
		return newCommandError("list report history", "querying the report store", err, "Check database.driver and database.dsn.")
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), history)
	}

	out := cmd.OutOrStdout()
	if len(history.ReportIDs) == 0 {
		fmt.Fprintf(out, "No reports stored for %s.\n", testID)
		return nil
	}
	for _, id := range history.ReportIDs {
		fmt.Fprintf(out, "%d\n", id)
	}
	return nil
}
