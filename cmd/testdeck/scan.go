package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/testdeck/internal/app/suite"
)

type scanOptions struct {
	force      bool
	byType     bool
	jsonOutput bool
}

func newScanCmd(root *rootFlags) *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Discover test definitions and list the modules found",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, root, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.force, "force", false, "Re-parse every definition file and reload dispatch tables")
	cmd.Flags().BoolVar(&opts.byType, "by-type", false, "Group direct steps by test type instead of listing modules")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

func runScan(cmd *cobra.Command, root *rootFlags, opts *scanOptions) error {
	ctx := cmd.Context()
	app, err := openApp(ctx, cmd, root)
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.svc.Scan(ctx, opts.force)
	if err != nil {
		return newCommandError("scan", "walking "+app.cfg.TestsDir, err, "Check that tests_dir exists and is readable.")
	}

	if opts.byType {
		return renderTypes(cmd, app.svc.Types(), opts.jsonOutput)
	}

	modules := app.svc.Modules()
	if opts.jsonOutput {
		failed := make([]map[string]string, 0, len(res.Failed))
		for _, f := range res.Failed {
			failed = append(failed, map[string]string{"path": f.Path, "module_id": f.ModuleID, "error": f.Message()})
		}
		return writeJSON(cmd.OutOrStdout(), map[string]any{
			"modules":      modules,
			"failed_loads": failed,
			"cached":       res.Cached,
		})
	}

	out := cmd.OutOrStdout()
	if len(modules) == 0 {
		fmt.Fprintf(out, "No test definitions found under %s.\n", app.cfg.TestsDir)
	} else {
		writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "MODULE\tID\tTYPES\tSTEPS\tSOURCE")
		for _, m := range modules {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%s\n", m.ID, m.DisplayID, strings.Join(m.Types, ","), len(m.Steps), m.SourcePath)
		}
		if err := writer.Flush(); err != nil {
			return err
		}
	}

	if len(res.Failed) > 0 {
		fmt.Fprintln(out, color.RedString("\nFailed to load %d definition(s):", len(res.Failed)))
		for _, f := range res.Failed {
			fmt.Fprintf(out, "  %s: %s\n", f.Path, f.Message())
		}
	}
	return nil
}

func renderTypes(cmd *cobra.Command, groups []suite.TypeGroup, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), map[string]any{"types": groups})
	}

	out := cmd.OutOrStdout()
	if len(groups) == 0 {
		fmt.Fprintln(out, "No direct steps registered.")
		return nil
	}
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "TYPE\tMODULE\tSTEP")
	for _, group := range groups {
		for _, step := range group.Steps {
			fmt.Fprintf(writer, "%s\t%s\t%s\n", group.Type, step.ModuleID, step.Name)
		}
	}
	return writer.Flush()
}
