package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newFailedCmd(root *rootFlags) *cobra.Command {
	var (
		testType   string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "failed <test-id>",
		Short: "Show the non-passing steps of the latest report for a test",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx, cmd, root)
			if err != nil {
				return err
			}
			defer app.Close()

			steps, err := app.svc.FailedSteps(ctx, args[0], testType)
			if err != nil {
				return newCommandError("show failed steps", "querying the report store", err, "Check database.driver and database.dsn.")
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), steps)
			}

			out := cmd.OutOrStdout()
			if len(steps) == 0 {
				fmt.Fprintf(out, "No failed steps for %s.\n", args[0])
				return nil
			}
			for _, s := range steps {
				fmt.Fprintf(out, "%s %d. %s [%s]\n", color.RedString("✗"), s.Index, s.Name, statusText(s.Status))
				if s.Output != "" {
					fmt.Fprintf(out, "%s\n", firstLines(s.Output, 20))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&testType, "type", "t", "", "Only steps of this test type")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}
