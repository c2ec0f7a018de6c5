package registry

import (
	"github.com/alexisbeaulieu97/testdeck/internal/model"
)

// Module represents one discovered test-definition file.
type Module struct {
	ID          string `json:"id"`
	DisplayID   string `json:"display_id"`
	Description string `json:"description,omitempty"`
	// Types maps each declared test type to the owning module id.
	Types      map[string]string `json:"types"`
	System     string            `json:"system,omitempty"`
	Platform   string            `json:"platform,omitempty"`
	SourcePath string            `json:"source_path"`

	// Configuration is set for declarative modules whose steps come from a dispatch table.
	Configuration *model.Configuration `json:"configuration,omitempty"`
	// ConfigType is the test type given to declarative steps.
	ConfigType string `json:"config_type,omitempty"`
}

// Declarative reports whether the module's steps are resolved through dispatch.
func (m Module) Declarative() bool {
	return m.Configuration != nil
}

// TypeNames returns the declared test types in sorted order.
func (m Module) TypeNames() []string {
	return sortedKeys(m.Types)
}

// Step is one registered runnable unit owned by a module.
type Step struct {
	ModuleID    string
	Description string
	TestType    string
	Func        model.StepFunc
}
