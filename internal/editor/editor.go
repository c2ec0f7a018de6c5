// Package editor rewrites the declared step block of a definition file in place.
package editor

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alexisbeaulieu97/testdeck/internal/definition"
	"github.com/alexisbeaulieu97/testdeck/internal/model"
	"github.com/alexisbeaulieu97/testdeck/pkg/diff"
	testdeckerrors "github.com/alexisbeaulieu97/testdeck/pkg/errors"
)

// ErrUnsupportedFormat is returned for definition formats that cannot be edited in place.
var ErrUnsupportedFormat = errors.New("only YAML definitions can be edited in place")

// Options controls ReplaceSteps.
type Options struct {
	// DryRun computes the new content and diff without writing the file.
	DryRun bool
}

// Result describes an edit.
type Result struct {
	Path    string    `json:"path"`
	Changed bool      `json:"changed"`
	Written bool      `json:"written"`
	Diff    string    `json:"diff,omitempty"`
	Stat    diff.Stat `json:"stat"`

	Before []byte `json:"-"`
	After  []byte `json:"-"`
}

// blockRange is the 1-based, inclusive line range of the steps block.
type blockRange struct {
	start, end int
	indent     int
}

// ReplaceSteps replaces configuration.steps in the YAML definition at path.
// Every line outside that block is kept byte for byte.
func ReplaceSteps(path string, steps []model.StepSpec, opts Options) (*Result, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}

	before, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}

	after, err := Splice(path, before, steps)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Path:    path,
		Before:  before,
		After:   after,
		Changed: !bytes.Equal(before, after),
		Stat:    diff.Changes(before, after),
		Diff:    diff.GenerateUnifiedDiff(before, after, path, path),
	}
	if opts.DryRun || !res.Changed {
		return res, nil
	}

	if err := writeFile(path, after); err != nil {
		return nil, err
	}
	res.Written = true
	return res, nil
}

// Splice returns data with its configuration.steps block replaced by steps.
// The result is parsed and validated before it is returned.
func Splice(path string, data []byte, steps []model.StepSpec) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, testdeckerrors.NewParseError(path, 0, err)
	}

	block, err := locateSteps(&doc, lineCount(data))
	if err != nil {
		return nil, testdeckerrors.NewValidationError("configuration.steps", err.Error(), err)
	}

	rendered, err := render(steps, block.indent)
	if err != nil {
		return nil, err
	}

	lines := bytes.SplitAfter(data, []byte("\n"))
	// Blank lines and comments ahead of the next key stay with that key.
	for block.end > block.start && isTrivia(lines[block.end-1]) {
		block.end--
	}
	var out bytes.Buffer
	for _, line := range lines[:block.start-1] {
		out.Write(line)
	}
	out.Write(rendered)
	for _, line := range lines[block.end:] {
		out.Write(line)
	}

	result := out.Bytes()
	if _, err := definition.Parse(path, result); err != nil {
		return nil, fmt.Errorf("edited definition is invalid: %w", err)
	}
	return result, nil
}

func locateSteps(doc *yaml.Node, total int) (blockRange, error) {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return blockRange{}, errors.New("definition is empty")
	}
	root := doc.Content[0]

	cfgIdx := keyIndex(root, "configuration")
	if cfgIdx < 0 {
		return blockRange{}, errors.New("definition has no configuration block")
	}
	cfg := root.Content[cfgIdx+1]

	stepsIdx := keyIndex(cfg, "steps")
	if stepsIdx < 0 {
		return blockRange{}, errors.New("configuration has no steps")
	}
	key := cfg.Content[stepsIdx]

	// The block runs until the next key of the configuration mapping or,
	// failing that, the next top-level key.
	end := total
	if next := stepsIdx + 2; next < len(cfg.Content) {
		end = cfg.Content[next].Line - 1
	} else if next := cfgIdx + 2; next < len(root.Content) {
		end = root.Content[next].Line - 1
	}

	return blockRange{start: key.Line, end: end, indent: key.Column - 1}, nil
}

func keyIndex(mapping *yaml.Node, key string) int {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return -1
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return i
		}
	}
	return -1
}

func render(steps []model.StepSpec, indent int) ([]byte, error) {
	if steps == nil {
		steps = []model.StepSpec{}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(map[string][]model.StepSpec{"steps": steps}); err != nil {
		return nil, fmt.Errorf("render steps: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("render steps: %w", err)
	}

	pad := strings.Repeat(" ", indent)
	var out bytes.Buffer
	for _, line := range strings.SplitAfter(buf.String(), "\n") {
		if line == "" {
			continue
		}
		out.WriteString(pad)
		out.WriteString(line)
	}
	return out.Bytes(), nil
}

func isTrivia(line []byte) bool {
	trimmed := bytes.TrimSpace(line)
	return len(trimmed) == 0 || trimmed[0] == '#'
}

// lineCount counts lines the way the splice indexes them.
func lineCount(data []byte) int {
	n := bytes.Count(data, []byte("\n"))
	if len(data) > 0 && data[len(data)-1] != '\n' {
		n++
	}
	return n
}

func writeFile(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".testdeck-edit-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace definition: %w", err)
	}
	return nil
}
