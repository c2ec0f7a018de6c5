package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/testdeck/internal/app/suite"
	"github.com/alexisbeaulieu97/testdeck/internal/engine"
	"github.com/alexisbeaulieu97/testdeck/internal/model"
	"github.com/alexisbeaulieu97/testdeck/internal/progress"
)

const progressPoll = 100 * time.Millisecond

type runOptions struct {
	testType    string
	steps       []string
	failFast    bool
	abortStatus string
	reload      bool
	jsonOutput  bool
	progress    bool
	echo        bool
}

func newRunCmd(root *rootFlags) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <module-id>",
		Short: "Run every step of a module and store the report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, root, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.testType, "type", "t", "", "Run only steps of this test type")
	cmd.Flags().StringArrayVarP(&opts.steps, "step", "s", nil, "Run only the named step (repeatable)")
	cmd.Flags().BoolVar(&opts.failFast, "fail-fast", true, "Stop at the first failing step")
	cmd.Flags().StringVar(&opts.abortStatus, "abort-status", "", "Status for steps after an abort: SKIPPED or FAIL")
	cmd.Flags().BoolVar(&opts.reload, "reload", false, "Reload the project dispatch table before running")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")
	cmd.Flags().BoolVar(&opts.echo, "echo", false, "Stream the output of direct steps to stderr (implied by --verbose)")
	cmd.Flags().BoolVar(&opts.progress, "progress", false, "Show a progress bar even when stderr is not a terminal")

	return cmd
}

func runRun(cmd *cobra.Command, root *rootFlags, opts *runOptions, moduleID string) error {
	ctx := cmd.Context()
	echo := opts.echo || root.verbose
	app, err := openApp(ctx, cmd, root, func(o *suite.Options) {
		if echo {
			o.Echo = cmd.ErrOrStderr()
		}
	})
	if err != nil {
		return err
	}
	defer app.Close()

	if _, err := app.svc.Scan(ctx, false); err != nil {
		return newCommandError("run", "discovering modules", err, "Check that tests_dir exists and is readable.")
	}

	req := engine.RunRequest{
		ModuleID:       moduleID,
		TestType:       opts.testType,
		Steps:          opts.steps,
		ReloadDispatch: opts.reload,
	}
	if cmd.Flags().Changed("fail-fast") || cmd.Flags().Changed("abort-status") {
		policy := engine.Policy{FailFast: app.cfg.Run.FailFast, AbortStatus: engine.ParseAbortStatus(app.cfg.Run.AbortStatus)}
		if cmd.Flags().Changed("fail-fast") {
			policy.FailFast = opts.failFast
		}
		if cmd.Flags().Changed("abort-status") {
			policy.AbortStatus = engine.ParseAbortStatus(opts.abortStatus)
		}
		req.Policy = &policy
	}

	showBar := !opts.jsonOutput && !echo && (opts.progress || isTerminal(cmd.ErrOrStderr()))
	run, err := runWithProgress(ctx, app.svc, req, cmd.ErrOrStderr(), showBar)
	if err != nil {
		return newCommandError("run", "running "+moduleID, err, "Run 'testdeck scan' to check module ids and failed loads.")
	}

	if opts.jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), runView(run)); err != nil {
			return err
		}
	} else if err := renderRun(cmd.OutOrStdout(), run); err != nil {
		return err
	}

	if run.Status() != model.StatusPass {
		return fmt.Errorf("%w: %s finished with status %s", errRunFailed, moduleID, run.Status())
	}
	return nil
}

type runOutcome struct {
	run *engine.Summary
	err error
}

// runWithProgress runs synchronously on a worker goroutine while the caller
// polls the progress snapshot, the same way remote watchers do.
func runWithProgress(ctx context.Context, svc *suite.Service, req engine.RunRequest, w io.Writer, show bool) (*engine.Summary, error) {
	done := make(chan runOutcome, 1)
	go func() {
		run, err := svc.Run(ctx, req)
		done <- runOutcome{run: run, err: err}
	}()

	if !show {
		out := <-done
		return out.run, out.err
	}

	bar := newRunBar(w)
	ticker := time.NewTicker(progressPoll)
	defer ticker.Stop()

	for {
		select {
		case out := <-done:
			if out.run != nil {
				bar.ChangeMax(len(out.run.Results))
				_ = bar.Set(len(out.run.Results))
			}
			_ = bar.Finish()
			return out.run, out.err
		case <-ticker.C:
			updateRunBar(bar, svc.Progress())
		}
	}
}

func newRunBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString("Starting")),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        color.CyanString("█"),
			SaucerHead:    color.CyanString("█"),
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func updateRunBar(bar *progressbar.ProgressBar, state progress.State) {
	if !state.Active || state.Total == 0 {
		return
	}
	if bar.GetMax() != state.Total {
		bar.ChangeMax(state.Total)
	}
	_ = bar.Set(state.Index - 1)
	bar.Describe(color.CyanString(state.StepName))
}

type stepView struct {
	Index       int          `json:"index"`
	Name        string       `json:"name"`
	TestType    string       `json:"test_type"`
	Status      model.Status `json:"status"`
	Duration    string       `json:"duration"`
	Log         string       `json:"log,omitempty"`
	Stdout      string       `json:"stdout,omitempty"`
	Screenshots []string     `json:"screenshots,omitempty"`
}

func runView(run *engine.Summary) map[string]any {
	steps := make([]stepView, 0, len(run.Results))
	for _, r := range run.Results {
		steps = append(steps, stepView{
			Index:       r.Index,
			Name:        r.Name,
			TestType:    r.TestType,
			Status:      r.Status,
			Duration:    r.Duration.String(),
			Log:         r.Log,
			Stdout:      r.Stdout,
			Screenshots: r.Screenshots,
		})
	}
	return map[string]any{
		"run_id":     run.RunID,
		"module_id":  run.ModuleID,
		"status":     run.Status(),
		"duration":   run.Duration().String(),
		"report_id":  run.ReportID,
		"report_dir": run.ReportDir,
		"revision":   run.Revision,
		"steps":      steps,
	}
}

func renderRun(w io.Writer, run *engine.Summary) error {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "#\tSTEP\tTYPE\tSTATUS\tDURATION")
	for _, r := range run.Results {
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\n", r.Index, r.Name, r.TestType, statusText(r.Status), r.Duration.Round(time.Millisecond))
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	for _, r := range run.Results {
		if !r.Status.Failed() || r.Log == "" {
			continue
		}
		fmt.Fprintf(w, "\n%s %s\n%s\n", color.RedString("✗"), r.Name, firstLines(r.Log, 20))
	}

	fmt.Fprintf(w, "\n%s %s in %s", run.ModuleID, statusText(run.Status()), run.Duration().Round(time.Millisecond))
	if run.ReportID > 0 {
		fmt.Fprintf(w, " (report #%d)", run.ReportID)
	}
	fmt.Fprintln(w)
	if run.ReportDir != "" {
		fmt.Fprintf(w, "Artifacts: %s\n", run.ReportDir)
	}
	return nil
}
