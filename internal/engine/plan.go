package engine

import (
	"fmt"
	"path/filepath"

	"github.com/alexisbeaulieu97/testdeck/internal/dispatch"
	"github.com/alexisbeaulieu97/testdeck/internal/model"
	"github.com/alexisbeaulieu97/testdeck/internal/registry"
)

// plannedStep is one entry of the ordered list a run executes.
type plannedStep struct {
	Name     string
	TestType string
	Func     model.StepFunc
	// Missing marks a requested name with no registration.
	Missing bool
}

// plan resolves the ordered steps and initial vars for a module.
func (e *Engine) plan(module registry.Module, req RunRequest) ([]plannedStep, map[string]string, error) {
	var (
		steps []plannedStep
		vars  map[string]string
	)

	if module.Declarative() {
		resolved, err := e.planDeclarative(module, req)
		if err != nil {
			return nil, nil, err
		}
		steps = resolved
		vars = module.Configuration.Vars
	} else {
		for _, step := range e.registry.Steps(module.ID) {
			if req.TestType != "" && step.TestType != req.TestType {
				continue
			}
			steps = append(steps, plannedStep{Name: step.Description, TestType: step.TestType, Func: step.Func})
		}
	}

	if len(req.Steps) > 0 {
		steps = selectSteps(steps, req.Steps)
	}
	return steps, vars, nil
}

func (e *Engine) planDeclarative(module registry.Module, req RunRequest) ([]plannedStep, error) {
	if req.TestType != "" && req.TestType != module.ConfigType {
		return nil, nil
	}
	if e.dispatch == nil {
		return nil, fmt.Errorf("module %s is declarative but no dispatch loader is configured", module.ID)
	}

	table, err := e.dispatch.Load(ProjectDir(module), req.ReloadDispatch)
	if err != nil {
		return nil, fmt.Errorf("load dispatch table: %w", err)
	}

	resolutions := dispatch.Resolve(table, module.Configuration)
	steps := make([]plannedStep, 0, len(resolutions))
	for _, res := range resolutions {
		if _, missing := res.(dispatch.Unresolved); missing {
			e.log.WithFields(map[string]any{"module": module.ID, "key": res.LookupKey()}).Warn("dispatch function not found")
		}
		steps = append(steps, plannedStep{Name: res.StepName(), TestType: module.ConfigType, Func: res.StepFunc()})
	}
	return steps, nil
}

// ProjectDir resolves a declarative module's project directory. A relative project
// is taken from the definition file's directory.
func ProjectDir(module registry.Module) string {
	base := filepath.Dir(module.SourcePath)
	if module.Configuration == nil || module.Configuration.Project == "" {
		return base
	}
	if filepath.IsAbs(module.Configuration.Project) {
		return module.Configuration.Project
	}
	return filepath.Join(base, module.Configuration.Project)
}

// selectSteps keeps the named steps in the requested order. Repeated names run once.
func selectSteps(steps []plannedStep, names []string) []plannedStep {
	byName := make(map[string]plannedStep, len(steps))
	for _, step := range steps {
		if _, exists := byName[step.Name]; !exists {
			byName[step.Name] = step
		}
	}

	seen := make(map[string]bool, len(names))
	selected := make([]plannedStep, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		step, ok := byName[name]
		if !ok {
			selected = append(selected, plannedStep{Name: name, Missing: true})
			continue
		}
		selected = append(selected, step)
	}
	return selected
}
