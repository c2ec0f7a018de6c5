package dispatch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/alexisbeaulieu97/testdeck/internal/logger"
	"github.com/alexisbeaulieu97/testdeck/internal/validation"
	testdeckerrors "github.com/alexisbeaulieu97/testdeck/pkg/errors"
)

// HelperFile is the well-known per-project file holding the function table.
const HelperFile = "dispatch_functions.yaml"

// reservedArgs never appear in argument schemas; they are bound by the dispatcher.
var reservedArgs = map[string]bool{"context": true, "config": true, "kwargs": true}

// helperDocument is the on-disk shape of HelperFile.
type helperDocument struct {
	Functions map[string]FunctionSpec `yaml:"functions" validate:"dive"`
}

// FunctionSpec declares one dispatch function.
type FunctionSpec struct {
	Kind        string            `yaml:"kind" validate:"required"`
	Description string            `yaml:"description,omitempty"`
	Args        []ArgSpec         `yaml:"args,omitempty" validate:"omitempty,dive"`
	Run         string            `yaml:"run,omitempty"`
	Shell       string            `yaml:"shell,omitempty"`
	WorkDir     string            `yaml:"workdir,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
}

// ArgSpec declares one named argument with an optional default.
type ArgSpec struct {
	Name    string `yaml:"name" validate:"required,action"`
	Default any    `yaml:"default,omitempty"`
}

// Function is one compiled entry of a project's dispatch table.
type Function struct {
	Name    string
	Spec    FunctionSpec
	Handler Handler
}

// Defaults returns the argument template: each declared arg with its default,
// or an empty string when none is declared.
func (f Function) Defaults() map[string]any {
	out := make(map[string]any, len(f.Spec.Args))
	for _, arg := range f.Spec.Args {
		if reservedArgs[arg.Name] {
			continue
		}
		if arg.Default == nil {
			out[arg.Name] = ""
			continue
		}
		out[arg.Name] = arg.Default
	}
	return out
}

// Table is the dispatch table of one project.
type Table struct {
	Project   string
	functions map[string]Function
}

// Lookup returns the function registered under key.
func (t *Table) Lookup(key string) (Function, bool) {
	if t == nil {
		return Function{}, false
	}
	fn, ok := t.functions[key]
	return fn, ok
}

// Names returns the public function names in sorted order.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.functions))
	for name := range t.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of functions in the table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.functions)
}

// Schemas returns the argument template of every function.
func (t *Table) Schemas() map[string]map[string]any {
	out := make(map[string]map[string]any)
	if t == nil {
		return out
	}
	for name, fn := range t.functions {
		out[name] = fn.Defaults()
	}
	return out
}

// Loader loads and caches dispatch tables per project path.
type Loader struct {
	mu    sync.Mutex
	cache map[string]*Table
	kinds *Kinds
	log   *logger.Logger
}

// NewLoader creates a Loader compiling functions with kinds. A nil kinds uses Builtins.
func NewLoader(kinds *Kinds, log *logger.Logger) *Loader {
	if kinds == nil {
		kinds = Builtins()
	}
	return &Loader{
		cache: make(map[string]*Table),
		kinds: kinds,
		log:   log.Component("dispatch"),
	}
}

// Load returns the dispatch table for projectPath, reading HelperFile on first use
// or when forceReload is set. A missing helper file yields an empty table.
func (l *Loader) Load(projectPath string, forceReload bool) (*Table, error) {
	key, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, fmt.Errorf("resolve project path: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if table, ok := l.cache[key]; ok && !forceReload {
		return table, nil
	}

	table, err := l.read(key)
	if err != nil {
		return nil, err
	}
	l.cache[key] = table
	l.log.WithFields(map[string]any{"project": key, "functions": table.Names()}).Debug("dispatch table loaded")
	return table, nil
}

// Cached returns a previously loaded table without touching disk.
func (l *Loader) Cached(projectPath string) (*Table, bool) {
	key, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	table, ok := l.cache[key]
	return table, ok
}

// Invalidate drops every cached table.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]*Table)
}

func (l *Loader) read(project string) (*Table, error) {
	path := filepath.Join(project, HelperFile)
	table := &Table{Project: project, functions: make(map[string]Function)}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.log.With("path", path).Warn("dispatch helper file not found")
			return table, nil
		}
		return nil, testdeckerrors.NewParseError(path, 0, err)
	}

	var doc helperDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, testdeckerrors.NewParseError(path, 0, err)
	}
	if err := validation.Struct(doc); err != nil {
		return nil, err
	}

	for name, spec := range doc.Functions {
		if strings.HasPrefix(name, "_") {
			continue
		}
		handler, err := l.kinds.Build(name, spec)
		if err != nil {
			return nil, testdeckerrors.NewValidationError("functions."+name, err.Error(), err)
		}
		table.functions[name] = Function{Name: name, Spec: spec, Handler: handler}
	}

	return table, nil
}
