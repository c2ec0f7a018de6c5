package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alexisbeaulieu97/testdeck/internal/model"
	"github.com/alexisbeaulieu97/testdeck/internal/shell"
)

// Call carries everything a dispatch function is bound to.
type Call struct {
	Params map[string]any
	Run    *model.RunContext
	Config *model.Configuration
	// Dir is the project directory the function table was loaded from.
	Dir string
}

// Handler is the fixed signature of every compiled dispatch function.
type Handler func(ctx context.Context, call Call) (model.Outcome, error)

// KindFactory compiles a function spec into a Handler.
type KindFactory func(name string, spec FunctionSpec) (Handler, error)

// Kinds is a string-keyed table of function kinds.
type Kinds struct {
	mu        sync.RWMutex
	factories map[string]KindFactory
}

// NewKinds creates an empty kind table.
func NewKinds() *Kinds {
	return &Kinds{factories: make(map[string]KindFactory)}
}

// Register adds a kind. Registering the same kind twice is an error.
func (k *Kinds) Register(kind string, factory KindFactory) error {
	if factory == nil {
		return fmt.Errorf("kind %q: factory is nil", kind)
	}
	kind = strings.ToLower(strings.TrimSpace(kind))

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.factories[kind]; exists {
		return fmt.Errorf("kind %q already registered", kind)
	}
	k.factories[kind] = factory
	return nil
}

// Build compiles spec using the factory registered for spec.Kind.
func (k *Kinds) Build(name string, spec FunctionSpec) (Handler, error) {
	k.mu.RLock()
	factory, ok := k.factories[strings.ToLower(strings.TrimSpace(spec.Kind))]
	k.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown function kind %q", spec.Kind)
	}
	return factory(name, spec)
}

// Names lists the registered kinds.
func (k *Kinds) Names() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	names := make([]string, 0, len(k.factories))
	for name := range k.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builtins returns a kind table with every built-in kind registered.
func Builtins() *Kinds {
	k := NewKinds()
	_ = k.Register("command", commandKind)
	_ = k.Register("http_check", httpCheckKind)
	_ = k.Register("file_exists", fileExistsKind)
	_ = k.Register("file_contains", fileContainsKind)
	_ = k.Register("command_exists", commandExistsKind)
	_ = k.Register("set_var", setVarKind)
	_ = k.Register("sleep", sleepKind)
	_ = k.Register("fail", failKind)
	return k
}

func commandKind(name string, spec FunctionSpec) (Handler, error) {
	if strings.TrimSpace(spec.Run) == "" {
		return nil, fmt.Errorf("command function %s requires run", name)
	}
	return func(ctx context.Context, call Call) (model.Outcome, error) {
		var vars map[string]string
		if call.Run != nil {
			vars = call.Run.Vars
		}
		scope := paramVars(call.Params, vars)

		workDir := shell.Expand(spec.WorkDir, scope)
		if workDir == "" {
			workDir = call.Dir
		}
		step := shell.Step(shell.Command{
			Script:  shell.Expand(spec.Run, scope),
			Shell:   spec.Shell,
			WorkDir: workDir,
			Env:     spec.Env,
		})
		return step(ctx, nil)
	}, nil
}

func httpCheckKind(name string, spec FunctionSpec) (Handler, error) {
	return func(ctx context.Context, call Call) (model.Outcome, error) {
		url := getString(call.Params, "url", "")
		if url == "" {
			return model.Fail("url is required"), nil
		}
		want := getInt(call.Params, "status", http.StatusOK)
		timeout := getDuration(call.Params, "timeout", 10*time.Second)

		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			return model.Outcome{}, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return model.Fail(fmt.Sprintf("GET %s: %v", url, err)), nil
		}
		defer resp.Body.Close()

		msg := fmt.Sprintf("GET %s -> %d", url, resp.StatusCode)
		if resp.StatusCode != want {
			return model.Fail(fmt.Sprintf("%s, expected %d", msg, want)), nil
		}
		return model.Pass(msg), nil
	}, nil
}

func fileExistsKind(name string, spec FunctionSpec) (Handler, error) {
	return func(ctx context.Context, call Call) (model.Outcome, error) {
		path := resolvePath(call.Dir, getString(call.Params, "path", ""))
		if path == "" {
			return model.Fail("path is required"), nil
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return model.Fail(fmt.Sprintf("path %s does not exist", path)), nil
			}
			return model.Outcome{}, err
		}
		return model.Pass(fmt.Sprintf("path %s exists", path)), nil
	}, nil
}

func fileContainsKind(name string, spec FunctionSpec) (Handler, error) {
	return func(ctx context.Context, call Call) (model.Outcome, error) {
		path := resolvePath(call.Dir, getString(call.Params, "path", ""))
		text := getString(call.Params, "pattern", "")
		if path == "" || text == "" {
			return model.Fail("path and pattern are required"), nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return model.Fail(err.Error()), nil
		}
		pattern, err := regexp.Compile(text)
		if err != nil {
			return model.Outcome{}, fmt.Errorf("compile pattern: %w", err)
		}
		if !pattern.Match(data) {
			return model.Fail(fmt.Sprintf("pattern %q not found in %s", text, path)), nil
		}
		return model.Pass(fmt.Sprintf("pattern %q found in %s", text, path)), nil
	}, nil
}

func commandExistsKind(name string, spec FunctionSpec) (Handler, error) {
	return func(ctx context.Context, call Call) (model.Outcome, error) {
		command := getString(call.Params, "command", "")
		if command == "" {
			return model.Fail("command is required"), nil
		}
		path, err := exec.LookPath(command)
		if err != nil {
			return model.Fail(err.Error()), nil
		}
		return model.Pass(path), nil
	}, nil
}

func setVarKind(name string, spec FunctionSpec) (Handler, error) {
	return func(ctx context.Context, call Call) (model.Outcome, error) {
		key := getString(call.Params, "name", "")
		if key == "" {
			return model.Fail("name is required"), nil
		}
		if call.Run == nil {
			return model.Outcome{}, fmt.Errorf("set_var %s: no run context", key)
		}
		value := getString(call.Params, "value", "")
		call.Run.Vars[key] = value
		return model.Pass(fmt.Sprintf("%s=%s", key, value)), nil
	}, nil
}

func sleepKind(name string, spec FunctionSpec) (Handler, error) {
	return func(ctx context.Context, call Call) (model.Outcome, error) {
		d := getDuration(call.Params, "duration", time.Second)
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return model.Pass(fmt.Sprintf("slept %s", d)), nil
		case <-ctx.Done():
			return model.Outcome{}, ctx.Err()
		}
	}, nil
}

func failKind(name string, spec FunctionSpec) (Handler, error) {
	return func(ctx context.Context, call Call) (model.Outcome, error) {
		msg := getString(call.Params, "message", fmt.Sprintf("%s failed", name))
		if getBool(call.Params, "abort", false) && call.Run != nil {
			call.Run.Abort = true
		}
		return model.Fail(msg), nil
	}, nil
}

func resolvePath(dir, path string) string {
	if path == "" || dir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
