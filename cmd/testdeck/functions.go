package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func newFunctionsCmd(root *rootFlags) *cobra.Command {
	var (
		reload     bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "functions <project>",
		Short: "List the step functions a project's dispatch table provides",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), cmd, root)
			if err != nil {
				return err
			}
			defer app.Close()

			schemas, err := app.svc.Functions(args[0], reload)
			if err != nil {
				return newCommandError("list functions", "loading "+args[0], err, "Check that the project directory has a helper file.")
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), schemas)
			}

			names := make([]string, 0, len(schemas))
			for name := range schemas {
				names = append(names, name)
			}
			sort.Strings(names)

			out := cmd.OutOrStdout()
			for _, name := range names {
				params := make([]string, 0, len(schemas[name]))
				for arg := range schemas[name] {
					params = append(params, arg)
				}
				sort.Strings(params)
				fmt.Fprintf(out, "%s(%s)\n", name, strings.Join(params, ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&reload, "reload", false, "Re-read the helper file instead of using the cache")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}
