package definition

import (
	"github.com/alexisbeaulieu97/testdeck/internal/model"
)

// DefaultPrefix is the filename prefix that marks a test-definition file.
const DefaultPrefix = "__testlist__"

// File is one parsed test-definition file.
type File struct {
	ID          string   `yaml:"id" validate:"required"`
	Description string   `yaml:"description,omitempty"`
	System      string   `yaml:"system,omitempty"`
	Platform    string   `yaml:"platform,omitempty"`
	Types       []string `yaml:"types,omitempty" validate:"omitempty,dive,test_type"`
	Steps       []Step   `yaml:"steps,omitempty" validate:"omitempty,dive"`

	// Configuration makes the file declarative; its steps resolve through dispatch.
	Configuration *model.Configuration `yaml:"configuration,omitempty"`

	Path string `yaml:"-"`
}

// Step is a direct step that runs a shell command.
type Step struct {
	Type    string            `yaml:"type" validate:"required,test_type"`
	Name    string            `yaml:"name" validate:"required"`
	Run     string            `yaml:"run" validate:"required"`
	WorkDir string            `yaml:"workdir,omitempty"`
	Shell   string            `yaml:"shell,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// Declarative reports whether the file carries a configuration block.
func (f *File) Declarative() bool {
	return f != nil && f.Configuration != nil
}

// AllTypes returns the declared types followed by any step types not declared,
// in first-seen order.
func (f *File) AllTypes() []string {
	seen := make(map[string]bool, len(f.Types))
	types := make([]string, 0, len(f.Types))
	for _, t := range f.Types {
		if !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	for _, s := range f.Steps {
		if !seen[s.Type] {
			seen[s.Type] = true
			types = append(types, s.Type)
		}
	}
	return types
}

// ConfigurationType is the test type given to declarative steps.
func (f *File) ConfigurationType() string {
	if len(f.Types) > 0 {
		return f.Types[0]
	}
	return "config"
}
