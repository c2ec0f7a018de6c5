package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alexisbeaulieu97/testdeck/internal/engine"
	"github.com/alexisbeaulieu97/testdeck/internal/logger"
	"github.com/alexisbeaulieu97/testdeck/internal/model"
)

const (
	// ResultsFile is the machine-readable report written into each run directory.
	ResultsFile = "results.json"
	// SummaryFile is the plain-text report written next to it.
	SummaryFile = "summary.txt"

	runDirLayout = "20060102_150405"
)

// Dirs locates the staging directories and the report root.
type Dirs struct {
	Reports     string
	Screenshots string
	CompileLogs string
}

// Collector gathers run artifacts into a timestamped directory. It is an engine.Sink.
type Collector struct {
	dirs Dirs
	log  *logger.Logger
	now  func() time.Time
}

// NewCollector creates a Collector. Empty staging dirs are ignored.
func NewCollector(dirs Dirs, log *logger.Logger) *Collector {
	return &Collector{dirs: dirs, log: log.Component("artifacts"), now: time.Now}
}

// Name implements engine.Sink.
func (c *Collector) Name() string { return "artifacts" }

// Complete moves staged artifacts into a new run directory, attaches screenshots
// to their steps and writes the run reports.
func (c *Collector) Complete(ctx context.Context, run *engine.Summary) error {
	if c.dirs.Reports == "" {
		return errors.New("reports directory is not configured")
	}

	dir, err := c.createRunDir(run.Finished)
	if err != nil {
		return err
	}
	run.ReportDir = dir

	if err := c.moveAll(ctx, c.dirs.CompileLogs, dir, func(string) bool { return true }); err != nil {
		return fmt.Errorf("move compile logs: %w", err)
	}
	if err := c.moveAll(ctx, c.dirs.Screenshots, dir, isStagedImage); err != nil {
		return fmt.Errorf("move screenshots: %w", err)
	}

	if err := Attach(dir, run.Results); err != nil {
		return err
	}

	if err := writeResults(filepath.Join(dir, ResultsFile), run); err != nil {
		return err
	}
	if err := writeSummary(filepath.Join(dir, SummaryFile), run); err != nil {
		return err
	}

	c.log.WithFields(map[string]any{"module": run.ModuleID, "dir": dir}).Debug("artifacts collected")
	return nil
}

// Attach lists dir and records every screenshot on the step whose index it names.
func Attach(dir string, results []model.RunResult) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("list run directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}

	byStep := Associate(names)
	for i := range results {
		index := results[i].Index
		if index == 0 {
			index = i + 1
		}
		results[i].Screenshots = byStep[index]
	}
	return nil
}

// createRunDir makes <reports>/<timestamp>, adding a suffix when two runs finish
// within the same second.
func (c *Collector) createRunDir(finished time.Time) (string, error) {
	if finished.IsZero() {
		finished = c.now()
	}
	if err := os.MkdirAll(c.dirs.Reports, 0o755); err != nil {
		return "", fmt.Errorf("create reports directory: %w", err)
	}

	base := filepath.Join(c.dirs.Reports, finished.Format(runDirLayout))
	dir := base
	for n := 2; ; n++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("create run directory: %w", err)
		}
		dir = fmt.Sprintf("%s_%d", base, n)
	}
}

func (c *Collector) moveAll(ctx context.Context, from, to string, keep func(string) bool) error {
	if from == "" {
		return nil
	}
	entries, err := os.ReadDir(from)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || !keep(entry.Name()) {
			continue
		}
		if err := moveFile(filepath.Join(from, entry.Name()), filepath.Join(to, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// moveFile renames src to dst, copying when they live on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

type resultsDocument struct {
	RunID    string            `json:"run_id"`
	ModuleID string            `json:"module_id"`
	TestID   string            `json:"test_id"`
	TestType string            `json:"test_type,omitempty"`
	Status   model.Status      `json:"status"`
	Duration float64           `json:"total_duration"`
	Started  time.Time         `json:"started"`
	Finished time.Time         `json:"finished"`
	Revision string            `json:"source_revision,omitempty"`
	Results  []model.RunResult `json:"results"`
}

func writeResults(path string, run *engine.Summary) error {
	doc := resultsDocument{
		RunID:    run.RunID,
		ModuleID: run.ModuleID,
		TestID:   run.TestID,
		TestType: run.TestType,
		Status:   run.Status(),
		Duration: run.Duration().Seconds(),
		Started:  run.Started,
		Finished: run.Finished,
		Revision: run.Revision,
		Results:  run.Results,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}

func writeSummary(path string, run *engine.Summary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Test Report: %s (%s)\n", run.TestID, run.ModuleID)
	fmt.Fprintf(&b, "Status: %s  Duration: %.2fs\n\n", run.Status(), run.Duration().Seconds())

	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tStep\tDuration (s)\tResult\tScreenshots")
	for i, res := range run.Results {
		fmt.Fprintf(tw, "%d\t%s\t%.2f\t%s\t%s\n", i+1, res.Name, res.Duration.Seconds(), res.Status, JoinScreenshots(res.Screenshots))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, res := range run.Results {
		if !res.Status.Failed() {
			continue
		}
		fmt.Fprintf(&b, "\n--- %s [%s]\n%s\n", res.Name, res.Status, res.Log)
		if res.Stdout != "" {
			fmt.Fprintf(&b, "STDOUT:\n%s\n", res.Stdout)
		}
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
