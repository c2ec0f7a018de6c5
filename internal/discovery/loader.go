package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/alexisbeaulieu97/testdeck/internal/definition"
	"github.com/alexisbeaulieu97/testdeck/internal/logger"
	"github.com/alexisbeaulieu97/testdeck/internal/registry"
	"github.com/alexisbeaulieu97/testdeck/internal/shell"
	testdeckerrors "github.com/alexisbeaulieu97/testdeck/pkg/errors"
)

// ScanOptions tunes a single scan.
type ScanOptions struct {
	// Force re-parses every file even when the cache says it is unchanged.
	Force bool
}

// LoadFailure records a definition file that could not be loaded.
type LoadFailure struct {
	Path     string `json:"path"`
	ModuleID string `json:"module_id,omitempty"`
	Err      error  `json:"-"`
}

// Message is the failure text shown to users.
func (f LoadFailure) Message() string {
	if f.Err == nil {
		return ""
	}
	return f.Err.Error()
}

// Result summarises one scan.
type Result struct {
	Loaded   []string      `json:"loaded"`
	Cached   int           `json:"cached"`
	Failed   []LoadFailure `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Loader scans a directory tree for definition files and rebuilds the registry
// from them.
type Loader struct {
	root     string
	prefix   string
	registry *registry.Registry
	cache    *parseCache
	log      *logger.Logger
	echo     io.Writer

	mu      sync.RWMutex
	scanMu  sync.Mutex
	failed  []LoadFailure
	sources map[string]string
}

// Option configures a Loader.
type Option func(*Loader)

// WithPrefix overrides the definition filename prefix.
func WithPrefix(prefix string) Option {
	return func(l *Loader) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithLogger sets the loader logger.
func WithLogger(log *logger.Logger) Option {
	return func(l *Loader) { l.log = log.Component("discovery") }
}

// WithEcho streams the output of direct steps to w while they run.
func WithEcho(w io.Writer) Option {
	return func(l *Loader) { l.echo = w }
}

// NewLoader creates a Loader for root that populates reg.
func NewLoader(root string, reg *registry.Registry, opts ...Option) (*Loader, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, testdeckerrors.NewDiscoveryError(root, err)
	}

	l := &Loader{
		root:     abs,
		prefix:   definition.DefaultPrefix,
		registry: reg,
		cache:    newParseCache(),
		log:      logger.Nop(),
		sources:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Root returns the absolute scan root.
func (l *Loader) Root() string {
	return l.root
}

// Scan clears the registry and loads every definition file under the root.
// Files that fail are recorded and skipped; the scan itself only fails when the
// root cannot be walked.
func (l *Loader) Scan(ctx context.Context, opts ScanOptions) (Result, error) {
	l.scanMu.Lock()
	defer l.scanMu.Unlock()

	started := time.Now()
	l.registry.Clear()

	var result Result
	sources := make(map[string]string)
	owners := make(map[string]string)
	seen := make(map[string]bool)

	defer func() {
		l.cache.retain(seen)
		l.mu.Lock()
		l.failed = result.Failed
		l.sources = sources
		l.mu.Unlock()
	}()

	if _, err := os.Stat(l.root); err != nil {
		return result, testdeckerrors.NewDiscoveryError(l.root, err)
	}

	paths, walkFailures, err := l.collect(ctx)
	result.Failed = append(result.Failed, walkFailures...)
	if err != nil {
		return result, err
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		seen[path] = true

		id, err := registry.ModuleID(l.root, path)
		if err != nil {
			result.Failed = append(result.Failed, LoadFailure{Path: path, Err: testdeckerrors.NewDiscoveryError(path, err)})
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			result.Failed = append(result.Failed, LoadFailure{Path: path, ModuleID: id, Err: testdeckerrors.NewDiscoveryError(path, err)})
			continue
		}

		file, cached, err := l.cache.load(path, info, opts.Force)
		if err != nil {
			l.log.WithFields(map[string]any{"path": path, "module": id}).Error(err, "failed to load definition")
			result.Failed = append(result.Failed, LoadFailure{Path: path, ModuleID: id, Err: testdeckerrors.NewDiscoveryError(path, err)})
			continue
		}
		if cached {
			result.Cached++
		}

		if previous, dup := owners[id]; dup {
			l.log.WithFields(map[string]any{"module": id, "previous": previous, "path": path}).Warn("duplicate module id, last definition wins")
		}

		if err := l.replace(id, path, file); err != nil {
			result.Failed = append(result.Failed, LoadFailure{Path: path, ModuleID: id, Err: testdeckerrors.NewDiscoveryError(path, err)})
			continue
		}

		if _, dup := owners[id]; !dup {
			result.Loaded = append(result.Loaded, id)
		}
		owners[id] = path
		sources[id] = path
	}

	result.Duration = time.Since(started)
	l.log.WithFields(map[string]any{
		"loaded": len(result.Loaded),
		"cached": result.Cached,
		"failed": len(result.Failed),
		"force":  opts.Force,
	}).Info("discovery scan finished")
	return result, nil
}

// FailedLoads returns the failures of the most recent scan.
func (l *Loader) FailedLoads() []LoadFailure {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]LoadFailure, len(l.failed))
	copy(out, l.failed)
	return out
}

// SourcePath returns the absolute definition path of a loaded module.
func (l *Loader) SourcePath(moduleID string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	path, ok := l.sources[moduleID]
	return path, ok
}

// collect walks the root in lexical order. Hidden directories are skipped and
// unreadable entries are reported instead of stopping the walk.
func (l *Loader) collect(ctx context.Context) ([]string, []LoadFailure, error) {
	var (
		paths    []string
		failures []LoadFailure
	)

	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == l.root {
				return testdeckerrors.NewDiscoveryError(path, walkErr)
			}
			failures = append(failures, LoadFailure{Path: path, Err: testdeckerrors.NewDiscoveryError(path, walkErr)})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != l.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		if definition.IsDefinition(d.Name(), l.prefix) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return paths, failures, err
	}
	return paths, failures, nil
}

// replace registers file under id. On failure the module previously loaded
// under id, if any, is restored so the registry matches the scan result.
func (l *Loader) replace(id, path string, file *definition.File) error {
	previous, hadPrevious := l.registry.Module(id)
	previousSteps := l.registry.Steps(id)

	err := l.register(id, path, file)
	if err == nil {
		return nil
	}

	l.registry.Remove(id)
	if hadPrevious {
		if rerr := l.registry.Register(previous); rerr != nil {
			return errors.Join(err, rerr)
		}
		for _, step := range previousSteps {
			if rerr := l.registry.RegisterStep(id, step.TestType, step.Description, step.Func); rerr != nil {
				return errors.Join(err, rerr)
			}
		}
	}
	return err
}

func (l *Loader) register(id, path string, file *definition.File) error {
	module := registry.Module{
		ID:          id,
		DisplayID:   file.ID,
		Description: file.Description,
		System:      file.System,
		Platform:    file.Platform,
		SourcePath:  path,
		Types:       make(map[string]string),
	}
	for _, t := range file.AllTypes() {
		module.Types[t] = id
	}
	if file.Declarative() {
		module.Configuration = file.Configuration
		module.ConfigType = file.ConfigurationType()
		module.Types[module.ConfigType] = id
	}

	if err := l.registry.Register(module); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	for i, step := range file.Steps {
		description := registry.StepDescription(step.Type, i+1, step.Name)
		fn := shell.Step(shell.Command{
			Script:  step.Run,
			Shell:   step.Shell,
			WorkDir: stepDir(dir, step.WorkDir),
			Env:     step.Env,
			Echo:    l.echo,
		})
		if err := l.registry.RegisterStep(id, step.Type, description, fn); err != nil {
			return fmt.Errorf("register %s: %w", description, err)
		}
	}
	return nil
}

func stepDir(base, workDir string) string {
	switch {
	case workDir == "":
		return base
	case filepath.IsAbs(workDir), strings.Contains(workDir, "$"):
		return workDir
	default:
		return filepath.Join(base, workDir)
	}
}
