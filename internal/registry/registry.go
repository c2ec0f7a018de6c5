package registry

import (
	"fmt"
	"sort"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/alexisbeaulieu97/testdeck/internal/model"
	testdeckerrors "github.com/alexisbeaulieu97/testdeck/pkg/errors"
)

// Registry is the in-memory catalog of discovered modules and their steps.
// It is rebuilt from scratch on every discovery scan.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
	steps   map[string][]Step
	// buckets keeps steps grouped by test type in first-registration order.
	buckets *orderedmap.OrderedMap[string, []Step]
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		modules: make(map[string]Module),
		steps:   make(map[string][]Step),
		buckets: orderedmap.New[string, []Step](),
	}
}

// Register stores module metadata, overwriting any existing entry with the same id.
// Steps previously registered under that id are dropped.
func (r *Registry) Register(m Module) error {
	if m.ID == "" {
		return testdeckerrors.NewValidationError("id", "module id is required", nil)
	}
	if m.Types == nil {
		m.Types = map[string]string{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[m.ID]; exists {
		r.dropStepsLocked(m.ID)
	}
	r.modules[m.ID] = m
	return nil
}

// RegisterStep appends a step to the module's ordered list and to its test type bucket.
// Unknown test types get a bucket on demand. The module must be registered first. A
// description already registered for the module returns ErrDuplicateStep and the first
// registration is kept.
func (r *Registry) RegisterStep(moduleID, testType, description string, fn model.StepFunc) error {
	if fn == nil {
		return testdeckerrors.NewValidationError(description, "step function is nil", nil)
	}
	if description == "" {
		return testdeckerrors.NewValidationError("description", "step description is required", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.modules[moduleID]; !ok {
		return testdeckerrors.NewValidationError("module_id", fmt.Sprintf("module %q is not registered", moduleID), nil)
	}

	for _, existing := range r.steps[moduleID] {
		if existing.Description == description {
			return fmt.Errorf("%w: %s in %s", testdeckerrors.ErrDuplicateStep, description, moduleID)
		}
	}

	step := Step{ModuleID: moduleID, Description: description, TestType: testType, Func: fn}
	r.steps[moduleID] = append(r.steps[moduleID], step)

	bucket, _ := r.buckets.Get(testType)
	r.buckets.Set(testType, append(bucket, step))
	return nil
}

// Clear empties all modules, steps and type buckets.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.modules = make(map[string]Module)
	r.steps = make(map[string][]Step)
	r.buckets = orderedmap.New[string, []Step]()
}

// Remove drops a module and its steps. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[id]; !exists {
		return
	}
	r.dropStepsLocked(id)
	delete(r.modules, id)
}

// Module returns the metadata registered under id.
func (r *Registry) Module(id string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.modules[id]
	return m, ok
}

// Modules returns all registered modules sorted by id.
func (r *Registry) Modules() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Module, 0, len(r.modules))
	for _, m := range r.modules {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}

// Steps returns a copy of the module's steps in registration order.
func (r *Registry) Steps(moduleID string) []Step {
	r.mu.RLock()
	defer r.mu.RUnlock()

	steps := r.steps[moduleID]
	result := make([]Step, len(steps))
	copy(result, steps)
	return result
}

// StepsByType returns every step registered under testType, across modules.
func (r *Registry) StepsByType(testType string) []Step {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket, _ := r.buckets.Get(testType)
	result := make([]Step, len(bucket))
	copy(result, bucket)
	return result
}

// Types returns the known test types in the order they were first registered.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, r.buckets.Len())
	for pair := r.buckets.Oldest(); pair != nil; pair = pair.Next() {
		types = append(types, pair.Key)
	}
	return types
}

func (r *Registry) dropStepsLocked(moduleID string) {
	delete(r.steps, moduleID)

	pruned := make(map[string][]Step)
	for pair := r.buckets.Oldest(); pair != nil; pair = pair.Next() {
		kept := make([]Step, 0, len(pair.Value))
		for _, step := range pair.Value {
			if step.ModuleID != moduleID {
				kept = append(kept, step)
			}
		}
		pruned[pair.Key] = kept
	}
	for testType, steps := range pruned {
		r.buckets.Set(testType, steps)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
