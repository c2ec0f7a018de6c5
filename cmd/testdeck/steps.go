package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/alexisbeaulieu97/testdeck/internal/model"
)

func newStepsCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "steps",
		Short: "Edit the step list of a declarative module",
	}

	cmd.AddCommand(newStepsSetCmd(root))

	return cmd
}

func newStepsSetCmd(root *rootFlags) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "set <module-id> <steps-file>",
		Short: "Replace a module's steps with the list in a YAML or JSON file (- for stdin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			steps, err := readSteps(cmd.InOrStdin(), args[1])
			if err != nil {
				return newCommandError("set steps", "reading "+args[1], err, "Provide a list of {action, subaction, param} entries.")
			}

			app, err := openApp(ctx, cmd, root)
			if err != nil {
				return err
			}
			defer app.Close()

			if _, err := app.svc.Scan(ctx, false); err != nil {
				return newCommandError("set steps", "discovering modules", err, "Check that tests_dir exists and is readable.")
			}

			res, err := app.svc.ReplaceSteps(ctx, args[0], steps, dryRun)
			if err != nil {
				return newCommandError("set steps", "editing "+args[0], err, "Only YAML definitions with a configuration.steps block can be edited.")
			}

			out := cmd.OutOrStdout()
			if !res.Changed {
				fmt.Fprintf(out, "%s is already up to date.\n", res.Path)
				return nil
			}

			writeColoredDiff(out, res.Diff)
			verb := "Updated"
			if !res.Written {
				verb = "Would update"
			}
			fmt.Fprintf(out, "%s %s (+%d -%d)\n", verb, res.Path, res.Stat.Added, res.Stat.Removed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show the diff without writing the file")

	return cmd
}

// readSteps decodes a step list. JSON is a subset of YAML so one decoder serves both.
func readSteps(stdin io.Reader, path string) ([]model.StepSpec, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	var steps []model.StepSpec
	if err := yaml.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	return steps, nil
}

func writeColoredDiff(w io.Writer, diff string) {
	for _, line := range strings.SplitAfter(diff, "\n") {
		switch {
		case line == "":
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			fmt.Fprint(w, color.New(color.Bold).Sprint(line))
		case strings.HasPrefix(line, "@@"):
			fmt.Fprint(w, color.CyanString(line))
		case strings.HasPrefix(line, "+"):
			fmt.Fprint(w, color.GreenString(line))
		case strings.HasPrefix(line, "-"):
			fmt.Fprint(w, color.RedString(line))
		default:
			fmt.Fprint(w, line)
		}
	}
}
