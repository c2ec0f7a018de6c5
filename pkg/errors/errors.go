package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrRunActive is returned when a run is requested while another one is in progress.
	ErrRunActive = errors.New("a run is already active")
	// ErrModuleNotFound indicates the module id is not present in the registry.
	ErrModuleNotFound = errors.New("module not found")
	// ErrNoSteps indicates the module resolved to an empty step list.
	ErrNoSteps = errors.New("no resolvable steps")
	// ErrDuplicateStep is returned when a step description is registered twice for one module.
	ErrDuplicateStep = errors.New("duplicate step description")
)

// ParseError represents a definition or config parsing failure with optional line metadata.
type ParseError struct {
	Path    string
	Line    int
	Message string
	Err     error
}

// NewParseError constructs a ParseError.
func NewParseError(path string, line int, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ParseError{Path: path, Line: line, Message: message, Err: err}
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}

	if e.Line > 0 {
		return fmt.Sprintf("parse error: %s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error: %s: %s", e.Path, e.Message)
}

// Unwrap exposes the underlying error.
func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError captures definition or configuration validation issues.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string, err error) error {
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// DiscoveryError records a test-definition file that could not be loaded during a scan.
type DiscoveryError struct {
	Path string
	Err  error
}

// NewDiscoveryError constructs a DiscoveryError.
func NewDiscoveryError(path string, err error) error {
	return &DiscoveryError{Path: path, Err: err}
}

func (e *DiscoveryError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("discovery error: %s: %v", e.Path, e.Err)
}

// Unwrap exposes the underlying error.
func (e *DiscoveryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ResolutionError indicates a declared step has no implementation in the dispatch table.
type ResolutionError struct {
	Key string
}

// NewResolutionError constructs a ResolutionError for the given lookup key.
func NewResolutionError(key string) error {
	return &ResolutionError{Key: key}
}

func (e *ResolutionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("Function %s not found in dispatch", e.Key)
}

// StepCrash wraps a step that returned an error or panicked.
type StepCrash struct {
	Step  string
	Panic bool
	Err   error
}

// NewStepCrash constructs a StepCrash.
func NewStepCrash(step string, panicked bool, err error) error {
	return &StepCrash{Step: step, Panic: panicked, Err: err}
}

func (e *StepCrash) Error() string {
	if e == nil {
		return ""
	}
	if e.Panic {
		return fmt.Sprintf("step %q panicked: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("step %q crashed: %v", e.Step, e.Err)
}

// Unwrap exposes the root error.
func (e *StepCrash) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// EngineError is a terminal failure for a run request.
type EngineError struct {
	ModuleID string
	Err      error
}

// NewEngineError constructs an EngineError.
func NewEngineError(moduleID string, err error) error {
	return &EngineError{ModuleID: moduleID, Err: err}
}

func (e *EngineError) Error() string {
	if e == nil {
		return ""
	}
	if e.ModuleID != "" {
		return fmt.Sprintf("engine error on module %s: %v", e.ModuleID, e.Err)
	}
	return fmt.Sprintf("engine error: %v", e.Err)
}

// Unwrap exposes the root error.
func (e *EngineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
