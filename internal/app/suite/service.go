// Package suite wires discovery, dispatch, the engine and the report store into
// the operations exposed by the CLI and the HTTP API.
package suite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/alexisbeaulieu97/testdeck/internal/artifacts"
	"github.com/alexisbeaulieu97/testdeck/internal/config"
	"github.com/alexisbeaulieu97/testdeck/internal/discovery"
	"github.com/alexisbeaulieu97/testdeck/internal/dispatch"
	"github.com/alexisbeaulieu97/testdeck/internal/editor"
	"github.com/alexisbeaulieu97/testdeck/internal/engine"
	"github.com/alexisbeaulieu97/testdeck/internal/logger"
	"github.com/alexisbeaulieu97/testdeck/internal/metrics"
	"github.com/alexisbeaulieu97/testdeck/internal/model"
	"github.com/alexisbeaulieu97/testdeck/internal/progress"
	"github.com/alexisbeaulieu97/testdeck/internal/publish"
	"github.com/alexisbeaulieu97/testdeck/internal/registry"
	"github.com/alexisbeaulieu97/testdeck/internal/report"
	"github.com/alexisbeaulieu97/testdeck/internal/vcs"
	testdeckerrors "github.com/alexisbeaulieu97/testdeck/pkg/errors"
)

// Options configures a Service.
type Options struct {
	Config *config.Config
	Logger *logger.Logger
	// Kinds overrides the dispatch capability table; nil uses the builtins.
	Kinds *dispatch.Kinds
	// Provider overrides the publish provider built from Config.Publish.
	Provider publish.Provider
	// Sinks run after the built-in sinks.
	Sinks []engine.Sink
	// Echo receives the live output of direct steps when set.
	Echo io.Writer
}

// ModuleInfo is the listing view of a discovered module.
type ModuleInfo struct {
	ID          string   `json:"id"`
	DisplayID   string   `json:"display_id"`
	Description string   `json:"description,omitempty"`
	Types       []string `json:"types"`
	System      string   `json:"system,omitempty"`
	Platform    string   `json:"platform,omitempty"`
	SourcePath  string   `json:"source_path"`
	Declarative bool     `json:"declarative"`
	Steps       []string `json:"steps,omitempty"`
}

// TypeStep is one direct step listed under its test type.
type TypeStep struct {
	ModuleID string `json:"module_id"`
	Name     string `json:"name"`
}

// TypeGroup lists the direct steps registered under one test type.
type TypeGroup struct {
	Type  string     `json:"type"`
	Steps []TypeStep `json:"steps"`
}

// History is the stored report ids of one test, newest first.
type History struct {
	TestID    string  `json:"test_id"`
	ReportIDs []int64 `json:"report_ids"`
}

// Service coordinates the orchestration core for one tests directory.
type Service struct {
	cfg       *config.Config
	log       *logger.Logger
	registry  *registry.Registry
	discovery *discovery.Loader
	dispatch  *dispatch.Loader
	engine    *engine.Engine
	store     *report.Store
	metrics   *metrics.Collector
	provider  publish.Provider

	scanMu   sync.Mutex
	lastScan discovery.Result
}

// New builds a Service from settings. The report store is opened immediately;
// call Close to release it.
func New(ctx context.Context, opts Options) (*Service, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	for _, dir := range []string{cfg.ReportsDir, cfg.ScreenshotsDir, cfg.CompileLogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	reg := registry.New()
	disc, err := discovery.NewLoader(cfg.TestsDir, reg, discovery.WithLogger(log), discovery.WithEcho(opts.Echo))
	if err != nil {
		return nil, err
	}

	store, err := report.Open(ctx, cfg.Database.Driver, cfg.DatabaseDSN(), log)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:       cfg,
		log:       log.Component("suite"),
		registry:  reg,
		discovery: disc,
		dispatch:  dispatch.NewLoader(opts.Kinds, log),
		store:     store,
		provider:  opts.Provider,
	}

	if s.provider == nil && cfg.Publish.Enabled {
		s.provider, err = publish.NewProvider(ctx, publishConfig(cfg.Publish))
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("create publish provider: %w", err)
		}
	}

	engineOpts := []engine.Option{
		engine.WithLogger(log),
		engine.WithPolicy(engine.Policy{
			FailFast:    cfg.Run.FailFast,
			AbortStatus: engine.ParseAbortStatus(cfg.Run.AbortStatus),
		}),
		engine.WithSink(vcs.NewSink(cfg.TestsDir)),
		engine.WithSink(artifacts.NewCollector(artifacts.Dirs{
			Reports:     cfg.ReportsDir,
			Screenshots: cfg.ScreenshotsDir,
			CompileLogs: cfg.CompileLogsDir,
		}, log)),
		engine.WithSink(report.NewSink(store, cfg.ReportsDir)),
	}
	if cfg.Metrics.Enabled {
		s.metrics = metrics.NewCollector()
		engineOpts = append(engineOpts, engine.WithSink(s.metrics))
	}
	if s.provider != nil {
		engineOpts = append(engineOpts, engine.WithSink(publish.NewSink(s.provider, log)))
	}
	for _, sink := range opts.Sinks {
		engineOpts = append(engineOpts, engine.WithSink(sink))
	}

	s.engine = engine.New(reg, s.dispatch, progress.NewTracker(), engineOpts...)
	return s, nil
}

func publishConfig(p config.PublishSettings) publish.Config {
	return publish.Config{
		Provider:  p.Provider,
		Bucket:    p.Bucket,
		Prefix:    p.Prefix,
		Region:    p.Region,
		Endpoint:  p.Endpoint,
		AccessKey: p.AccessKey,
		SecretKey: p.SecretKey,
		PathStyle: p.PathStyle,
	}
}

// Close waits for background runs and releases the store and publish provider.
func (s *Service) Close() error {
	s.engine.Wait()
	var errs []error
	if s.provider != nil {
		errs = append(errs, s.provider.Close())
	}
	errs = append(errs, s.store.Close())
	return errors.Join(errs...)
}

// Config returns the settings the service was built with.
func (s *Service) Config() *config.Config { return s.cfg }

// Engine exposes the run engine.
func (s *Service) Engine() *engine.Engine { return s.engine }

// Registry exposes the module catalog.
func (s *Service) Registry() *registry.Registry { return s.registry }

// Store exposes the report store.
func (s *Service) Store() *report.Store { return s.store }

// Scan rediscovers the tests directory.
func (s *Service) Scan(ctx context.Context, force bool) (discovery.Result, error) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	res, err := s.discovery.Scan(ctx, discovery.ScanOptions{Force: force})
	if err != nil {
		return res, err
	}
	if force {
		s.dispatch.Invalidate()
	}
	if s.metrics != nil {
		s.metrics.ObserveScan(len(res.Loaded), len(res.Failed))
	}
	s.lastScan = res
	return res, nil
}

// LastScan returns the result of the most recent scan.
func (s *Service) LastScan() discovery.Result {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	return s.lastScan
}

// Modules lists the modules of the latest scan. Declarative steps are named
// against the project's dispatch table when it is already loaded, so steps a
// run would report as missing are listed that way.
func (s *Service) Modules() []ModuleInfo {
	modules := s.registry.Modules()
	out := make([]ModuleInfo, 0, len(modules))
	for _, m := range modules {
		info := ModuleInfo{
			ID:          m.ID,
			DisplayID:   m.DisplayID,
			Description: m.Description,
			Types:       m.TypeNames(),
			System:      m.System,
			Platform:    m.Platform,
			SourcePath:  m.SourcePath,
			Declarative: m.Declarative(),
		}
		if m.Declarative() {
			table, loaded := s.dispatch.Cached(engine.ProjectDir(m))
			for i, step := range m.Configuration.Steps {
				name := dispatch.ResolvedName(i+1, step.Key())
				if loaded {
					if _, ok := table.Lookup(step.Key()); !ok {
						name = dispatch.MissingName(i+1, step.Key())
					}
				}
				info.Steps = append(info.Steps, name)
			}
		} else {
			for _, step := range s.registry.Steps(m.ID) {
				info.Steps = append(info.Steps, step.Description)
			}
		}
		out = append(out, info)
	}
	return out
}

// Types groups the registered direct steps by test type, in the order each
// type was first seen during the scan.
func (s *Service) Types() []TypeGroup {
	types := s.registry.Types()
	out := make([]TypeGroup, 0, len(types))
	for _, t := range types {
		steps := s.registry.StepsByType(t)
		if len(steps) == 0 {
			continue
		}
		group := TypeGroup{Type: t, Steps: make([]TypeStep, 0, len(steps))}
		for _, step := range steps {
			group.Steps = append(group.Steps, TypeStep{ModuleID: step.ModuleID, Name: step.Description})
		}
		out = append(out, group)
	}
	return out
}

// FailedLoads lists the definition files the latest scan could not load.
func (s *Service) FailedLoads() []discovery.LoadFailure {
	return s.discovery.FailedLoads()
}

// Start triggers an asynchronous run.
func (s *Service) Start(req engine.RunRequest) error {
	return s.engine.Start(req)
}

// Run executes a module synchronously.
func (s *Service) Run(ctx context.Context, req engine.RunRequest) (*engine.Summary, error) {
	return s.engine.Run(ctx, req)
}

// Progress returns the live progress snapshot.
func (s *Service) Progress() progress.State {
	return s.engine.Progress()
}

// AllReports summarises every stored report, optionally for one parent test name.
func (s *Service) AllReports(ctx context.Context, parent string) ([]report.Summary, error) {
	return s.store.AllReports(ctx, parent)
}

// LatestReport returns the steps of the newest report, optionally for one test id.
func (s *Service) LatestReport(ctx context.Context, testID string) (report.Latest, error) {
	return s.store.LatestReport(ctx, testID)
}

// FailedSteps returns the non-passing steps of the newest report for testID.
func (s *Service) FailedSteps(ctx context.Context, testID, testType string) ([]report.FailedStep, error) {
	return s.store.FailedSteps(ctx, testID, testType)
}

// History lists the stored report ids of testID, newest first.
func (s *Service) History(ctx context.Context, testID string) (History, error) {
	ids, err := s.store.ReportRuns(ctx, testID)
	if err != nil {
		return History{}, err
	}
	return History{TestID: testID, ReportIDs: ids}, nil
}

// SourcePath returns the definition file backing moduleID.
func (s *Service) SourcePath(moduleID string) (string, error) {
	path, ok := s.discovery.SourcePath(moduleID)
	if !ok {
		return "", fmt.Errorf("%w: %s", testdeckerrors.ErrModuleNotFound, moduleID)
	}
	return path, nil
}

// ReplaceSteps rewrites the declared step block of a module's definition file.
// A written edit triggers a rescan so the catalog reflects it.
func (s *Service) ReplaceSteps(ctx context.Context, moduleID string, steps []model.StepSpec, dryRun bool) (*editor.Result, error) {
	path, err := s.SourcePath(moduleID)
	if err != nil {
		return nil, err
	}

	res, err := editor.ReplaceSteps(path, steps, editor.Options{DryRun: dryRun})
	if err != nil {
		return nil, err
	}
	if res.Written {
		s.log.WithFields(map[string]any{"module": moduleID, "path": path, "added": res.Stat.Added, "removed": res.Stat.Removed}).Info("step block rewritten")
		if _, err := s.Scan(ctx, false); err != nil {
			return res, fmt.Errorf("rescan after edit: %w", err)
		}
	}
	return res, nil
}

// Functions returns the argument templates of a project's dispatch table. A
// relative project is taken from the tests directory.
func (s *Service) Functions(project string, reload bool) (map[string]map[string]any, error) {
	if !filepath.IsAbs(project) {
		project = filepath.Join(s.cfg.TestsDir, project)
	}
	table, err := s.dispatch.Load(project, reload)
	if err != nil {
		return nil, err
	}
	return table.Schemas(), nil
}

// MetricsHandler serves Prometheus metrics, or nil when metrics are disabled.
func (s *Service) MetricsHandler() http.Handler {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.Handler()
}
