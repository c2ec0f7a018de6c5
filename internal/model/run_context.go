package model

import "context"

// StepFunc is the uniform signature every runnable step is reduced to. A returned
// error is treated as a crash of the step, not as a failed check.
type StepFunc func(ctx context.Context, rc *RunContext) (Outcome, error)

// RunContext is the mutable state shared by all steps of one run. Runs are
// sequential, so it carries no locking.
type RunContext struct {
	// Abort short-circuits every later step once set.
	Abort    bool
	ModuleID string
	// Vars holds string values steps exchange, also used for ${var} expansion.
	Vars map[string]string
	// Slots holds arbitrary handles such as open connections.
	Slots map[string]any
}

// NewRunContext creates an empty context for one run of moduleID.
func NewRunContext(moduleID string, vars map[string]string) *RunContext {
	rc := &RunContext{
		ModuleID: moduleID,
		Vars:     make(map[string]string, len(vars)),
		Slots:    make(map[string]any),
	}
	for k, v := range vars {
		rc.Vars[k] = v
	}
	return rc
}

// Configuration is the declarative step block of a test definition.
type Configuration struct {
	Project string            `yaml:"project,omitempty" json:"project,omitempty"`
	Vars    map[string]string `yaml:"vars,omitempty" json:"vars,omitempty"`
	Steps   []StepSpec        `yaml:"steps" json:"steps" validate:"dive"`
}

// StepSpec is one declared step: an action, optional subaction and parameters.
type StepSpec struct {
	Action    string `yaml:"action" json:"action" validate:"required"`
	Subaction string `yaml:"subaction,omitempty" json:"subaction,omitempty"`
	Param     any    `yaml:"param,omitempty" json:"param,omitempty"`
}

// Key is the dispatch lookup key for the step.
func (s StepSpec) Key() string {
	if s.Subaction == "" {
		return s.Action
	}
	return s.Action + "_" + s.Subaction
}
