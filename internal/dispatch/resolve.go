package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/alexisbeaulieu97/testdeck/internal/model"
	testdeckerrors "github.com/alexisbeaulieu97/testdeck/pkg/errors"
)

// Resolution is either Resolved or Unresolved.
type Resolution interface {
	StepName() string
	LookupKey() string
	// StepFunc returns the callable the engine runs for this step.
	StepFunc() model.StepFunc
	sealed()
}

// Resolved is a declared step bound to a function of the table.
type Resolved struct {
	Index    int
	Name     string
	Key      string
	Function Function
	Params   map[string]any
	Config   *model.Configuration
	Dir      string
}

// Unresolved is a declared step whose key has no function. It always fails.
type Unresolved struct {
	Index int
	Name  string
	Key   string
	Err   error
}

func (Resolved) sealed()   {}
func (Unresolved) sealed() {}

// StepName returns the synthetic unique step name.
func (r Resolved) StepName() string { return r.Name }

// LookupKey returns the dispatch key.
func (r Resolved) LookupKey() string { return r.Key }

// StepName returns the synthetic unique step name.
func (u Unresolved) StepName() string { return u.Name }

// LookupKey returns the dispatch key that failed to resolve.
func (u Unresolved) LookupKey() string { return u.Key }

// StepFunc wraps the function so that errors and panics become a failed outcome
// carrying the crash message instead of escaping the step.
func (r Resolved) StepFunc() model.StepFunc {
	handler := r.Function.Handler
	return func(ctx context.Context, rc *model.RunContext) (out model.Outcome, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				crash := testdeckerrors.NewStepCrash(r.Name, true, fmt.Errorf("%v\n%s", rec, debug.Stack()))
				out, err = model.Fail(crash.Error()), nil
			}
		}()

		var vars map[string]string
		if rc != nil {
			vars = rc.Vars
		}
		out, callErr := handler(ctx, Call{
			Params: expandParams(r.Params, vars),
			Run:    rc,
			Config: r.Config,
			Dir:    r.Dir,
		})
		if callErr != nil {
			return model.Fail(testdeckerrors.NewStepCrash(r.Name, false, callErr).Error()), nil
		}
		return out, nil
	}
}

// StepFunc returns a step that always fails with the resolution error.
func (u Unresolved) StepFunc() model.StepFunc {
	msg := u.Err.Error()
	return func(context.Context, *model.RunContext) (model.Outcome, error) {
		return model.Fail(msg), nil
	}
}

// ResolvedName formats the synthetic name of a resolved step; index is 1-based.
func ResolvedName(index int, key string) string {
	return fmt.Sprintf("%d - %s", index, key)
}

// MissingName formats the synthetic name of an unresolved step; index is 1-based.
func MissingName(index int, key string) string {
	return fmt.Sprintf("%d - Missing %s", index, key)
}

// Resolve maps every declared step of cfg onto table, in order. It never fails:
// unknown keys produce Unresolved placeholders.
func Resolve(table *Table, cfg *model.Configuration) []Resolution {
	if cfg == nil {
		return nil
	}

	dir := ""
	if table != nil {
		dir = table.Project
	}

	resolutions := make([]Resolution, 0, len(cfg.Steps))
	for i, spec := range cfg.Steps {
		index := i + 1
		key := spec.Key()

		fn, ok := table.Lookup(key)
		if !ok {
			resolutions = append(resolutions, Unresolved{
				Index: index,
				Name:  MissingName(index, key),
				Key:   key,
				Err:   testdeckerrors.NewResolutionError(key),
			})
			continue
		}

		resolutions = append(resolutions, Resolved{
			Index:    index,
			Name:     ResolvedName(index, key),
			Key:      key,
			Function: fn,
			Params:   bindParams(fn, spec.Param),
			Config:   cfg,
			Dir:      dir,
		})
	}
	return resolutions
}

// bindParams merges the function defaults with the declared param. A map param
// overrides by name; a scalar binds to the first declared argument.
func bindParams(fn Function, param any) map[string]any {
	params := fn.Defaults()
	switch typed := param.(type) {
	case nil:
	case map[string]any:
		for k, v := range typed {
			params[k] = v
		}
	default:
		target := "param"
		for _, arg := range fn.Spec.Args {
			if !reservedArgs[arg.Name] {
				target = arg.Name
				break
			}
		}
		params[target] = typed
	}
	return params
}
