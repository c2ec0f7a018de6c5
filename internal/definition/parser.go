package definition

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alexisbeaulieu97/testdeck/internal/validation"
	testdeckerrors "github.com/alexisbeaulieu97/testdeck/pkg/errors"
)

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// IsDefinition reports whether name is a test-definition file for prefix.
func IsDefinition(name, prefix string) bool {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasPrefix(name, prefix) {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".hcl":
		return true
	default:
		return false
	}
}

// Load reads a definition file from disk, parses and validates it.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, testdeckerrors.NewParseError(path, 0, err)
	}
	return Parse(path, data)
}

// Parse decodes data according to the file extension of path and validates the result.
func Parse(path string, data []byte) (*File, error) {
	var (
		file *File
		err  error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		file, err = parseHCL(path, data)
	case ".yaml", ".yml":
		file, err = parseYAML(path, data)
	default:
		return nil, testdeckerrors.NewParseError(path, 0, fmt.Errorf("unsupported definition format %q", filepath.Ext(path)))
	}
	if err != nil {
		return nil, err
	}

	file.Path = path
	if err := Validate(file); err != nil {
		return nil, err
	}
	return file, nil
}

// Validate checks struct tags plus rules that span fields.
func Validate(f *File) error {
	if f == nil {
		return testdeckerrors.NewValidationError("", "definition is nil", nil)
	}
	if err := validation.Struct(f); err != nil {
		return err
	}

	if f.Configuration != nil {
		if len(f.Steps) > 0 {
			return testdeckerrors.NewValidationError("steps", "steps and configuration are mutually exclusive", nil)
		}
		for i, step := range f.Configuration.Steps {
			field := fmt.Sprintf("configuration.steps[%d]", i)
			if err := validation.GetValidator().Var(step.Action, "action"); err != nil {
				return testdeckerrors.NewValidationError(field+".action", fmt.Sprintf("invalid action %q", step.Action), err)
			}
			if step.Subaction == "" {
				continue
			}
			if err := validation.GetValidator().Var(step.Subaction, "action"); err != nil {
				return testdeckerrors.NewValidationError(field+".subaction", fmt.Sprintf("invalid subaction %q", step.Subaction), err)
			}
		}
	}

	names := make(map[string]int, len(f.Steps))
	for i, step := range f.Steps {
		key := step.Type + "/" + step.Name
		if prev, ok := names[key]; ok {
			return testdeckerrors.NewValidationError(fmt.Sprintf("steps[%d].name", i), fmt.Sprintf("duplicates steps[%d] (%s)", prev, step.Name), nil)
		}
		names[key] = i
	}

	return nil
}

func parseYAML(path string, data []byte) (*File, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, testdeckerrors.NewParseError(path, extractLine(err), err)
	}
	return &file, nil
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}

	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}

	var line int
	if _, scanErr := fmt.Sscanf(matches[1], "%d", &line); scanErr != nil {
		return 0
	}
	return line
}
