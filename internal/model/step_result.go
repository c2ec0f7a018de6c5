package model

import (
	"time"
)

// Status is the outcome of a single step.
type Status string

const (
	// StatusPass marks a step that reported success.
	StatusPass Status = "PASS"
	// StatusFail marks a step that reported failure.
	StatusFail Status = "FAIL"
	// StatusError marks a step that crashed before producing an outcome.
	StatusError Status = "ERROR"
	// StatusSkipped marks a step short-circuited by an earlier abort.
	StatusSkipped Status = "SKIPPED"
	// StatusNotFound marks a requested step name with no registration.
	StatusNotFound Status = "NOT_FOUND"
)

// Color returns the display tag persisted alongside the status.
func (s Status) Color() string {
	switch s {
	case StatusPass:
		return "green"
	case StatusFail:
		return "red"
	default:
		return "gray"
	}
}

// Failed reports whether the status counts against the overall run.
func (s Status) Failed() bool {
	switch s {
	case StatusFail, StatusError, StatusNotFound:
		return true
	default:
		return false
	}
}

// Outcome is what a step callable reports back. Stdout is optional.
type Outcome struct {
	Success bool
	Log     string
	Stdout  string
}

// Pass builds a successful Outcome.
func Pass(log string) Outcome {
	return Outcome{Success: true, Log: log}
}

// Fail builds a failed Outcome.
func Fail(log string) Outcome {
	return Outcome{Success: false, Log: log}
}

// RunResult captures the outcome of executing a single step within a run.
type RunResult struct {
	Index    int           `json:"index"`
	Name     string        `json:"name"`
	TestType string        `json:"test_type,omitempty"`
	Status   Status        `json:"status"`
	Color    string        `json:"color"`
	Log      string        `json:"log"`
	Stdout   string        `json:"stdout,omitempty"`
	Duration time.Duration `json:"duration"`
	Start    time.Time     `json:"start_time"`
	Stop     time.Time     `json:"stop_time"`
	// Screenshots holds artifact file names attached to this step.
	Screenshots []string `json:"screenshots,omitempty"`
}

// Overall folds step statuses into the run-level PASS or FAIL.
func Overall(results []RunResult) Status {
	for _, res := range results {
		if res.Status.Failed() {
			return StatusFail
		}
	}
	return StatusPass
}

// TotalDuration sums the step durations of a run.
func TotalDuration(results []RunResult) time.Duration {
	var total time.Duration
	for _, res := range results {
		total += res.Duration
	}
	return total
}
