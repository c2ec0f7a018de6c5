package engine

import (
	"context"
	"strings"
	"time"

	"github.com/alexisbeaulieu97/testdeck/internal/model"
	"github.com/alexisbeaulieu97/testdeck/internal/registry"
)

// Policy controls how a failing step affects the rest of the run.
type Policy struct {
	// FailFast sets the run context abort flag when a step fails or errors.
	FailFast bool
	// AbortStatus is recorded for steps short-circuited by an abort: SKIPPED or FAIL.
	AbortStatus model.Status
}

// DefaultPolicy is fail-fast with skipped follow-up steps.
func DefaultPolicy() Policy {
	return Policy{FailFast: true, AbortStatus: model.StatusSkipped}
}

// ParseAbortStatus maps a configured abort status onto a Status, defaulting to SKIPPED.
func ParseAbortStatus(value string) model.Status {
	if strings.EqualFold(strings.TrimSpace(value), string(model.StatusFail)) {
		return model.StatusFail
	}
	return model.StatusSkipped
}

// RunRequest selects what to execute.
type RunRequest struct {
	ModuleID string
	// TestType restricts the run to steps of one test type.
	TestType string
	// Steps restricts the run to named steps, in the given order. Names the module
	// does not define produce NOT_FOUND results.
	Steps []string
	// Policy overrides the engine default when set.
	Policy *Policy
	// ReloadDispatch forces the project dispatch table to be re-read.
	ReloadDispatch bool
}

// Summary is the outcome of one run, handed to every Sink.
type Summary struct {
	RunID    string
	ModuleID string
	TestID   string
	TestType string
	Module   registry.Module
	Results  []model.RunResult
	Started  time.Time
	Finished time.Time

	// Filled in by sinks.
	ReportID  int64
	ReportDir string
	Revision  string
}

// Duration is the sum of step durations.
func (s *Summary) Duration() time.Duration {
	return model.TotalDuration(s.Results)
}

// Status is the overall run status.
func (s *Summary) Status() model.Status {
	return model.Overall(s.Results)
}

// Sink receives every completed run. Sinks run in registration order on the run
// worker and may annotate the summary for the sinks after them.
type Sink interface {
	Name() string
	Complete(ctx context.Context, run *Summary) error
}

// SinkFunc adapts a function into a Sink.
type SinkFunc struct {
	Label string
	Fn    func(ctx context.Context, run *Summary) error
}

// Name returns the sink label.
func (f SinkFunc) Name() string { return f.Label }

// Complete calls Fn.
func (f SinkFunc) Complete(ctx context.Context, run *Summary) error { return f.Fn(ctx, run) }
