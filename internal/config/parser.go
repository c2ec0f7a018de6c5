package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alexisbeaulieu97/testdeck/internal/validation"
	testdeckerrors "github.com/alexisbeaulieu97/testdeck/pkg/errors"
)

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// LoadOptions controls where settings come from.
type LoadOptions struct {
	// Path is the settings file. Empty means DefaultFile, which may be absent.
	Path string
	// EnvFile is a dotenv file merged under the process environment. Empty means
	// ".env" next to the settings file, which may be absent.
	EnvFile string
	// Getenv reads the process environment; defaults to os.LookupEnv.
	Getenv func(string) (string, bool)
}

// Load builds the settings from defaults, the settings file, the dotenv file
// and TESTDECK_* variables, in increasing precedence, then validates them.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	path := opts.Path
	required := path != ""
	if path == "" {
		path = DefaultFile
	}
	if err := parseFile(path, required, cfg); err != nil {
		return nil, err
	}

	envFile := opts.EnvFile
	envRequired := envFile != ""
	if envFile == "" {
		envFile = filepath.Join(filepath.Dir(path), ".env")
	}
	dotenv, err := readEnvFile(envFile, envRequired)
	if err != nil {
		return nil, err
	}

	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.LookupEnv
	}
	lookup := func(name string) (string, bool) {
		if v, ok := getenv(name); ok {
			return v, true
		}
		v, ok := dotenv[name]
		return v, ok
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfig loads a settings file on top of the defaults and validates it.
func ParseConfig(path string) (*Config, error) {
	cfg := Default()
	if err := parseFile(path, true, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings against their struct tags.
func Validate(cfg *Config) error {
	if cfg == nil {
		return testdeckerrors.NewValidationError("", "config is nil", nil)
	}
	return validation.Struct(cfg)
}

func parseFile(path string, required bool, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return testdeckerrors.NewParseError(path, 0, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return testdeckerrors.NewParseError(path, extractLine(err), err)
	}
	cfg.Path = path
	return nil
}

func readEnvFile(path string, required bool) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, testdeckerrors.NewParseError(path, 0, err)
	}
	return values, nil
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
	_, scanErr := fmt.Sscanf(matches[1], "%d", &line)
	if scanErr != nil {
		return 0
	}

	return line
}
