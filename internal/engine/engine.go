package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alexisbeaulieu97/testdeck/internal/dispatch"
	"github.com/alexisbeaulieu97/testdeck/internal/logger"
	"github.com/alexisbeaulieu97/testdeck/internal/model"
	"github.com/alexisbeaulieu97/testdeck/internal/progress"
	"github.com/alexisbeaulieu97/testdeck/internal/registry"
	testdeckerrors "github.com/alexisbeaulieu97/testdeck/pkg/errors"
)

const (
	skippedLog  = "Skipped"
	notFoundLog = "No matching test found"
)

// Engine runs one module at a time against a fresh RunContext.
type Engine struct {
	registry *registry.Registry
	dispatch *dispatch.Loader
	tracker  *progress.Tracker
	policy   Policy
	sinks    []Sink
	log      *logger.Logger
	now      func() time.Time

	wg     sync.WaitGroup
	lastMu sync.Mutex
	last   *Summary
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy sets the default run policy.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithSink appends a completion sink.
func WithSink(s Sink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, s) }
}

// WithLogger sets the engine logger.
func WithLogger(log *logger.Logger) Option {
	return func(e *Engine) { e.log = log.Component("engine") }
}

// New creates an Engine. A nil tracker gets a fresh one.
func New(reg *registry.Registry, loader *dispatch.Loader, tracker *progress.Tracker, opts ...Option) *Engine {
	if tracker == nil {
		tracker = progress.NewTracker()
	}
	e := &Engine{
		registry: reg,
		dispatch: loader,
		tracker:  tracker,
		policy:   DefaultPolicy(),
		log:      logger.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Progress returns a copy of the live progress state.
func (e *Engine) Progress() progress.State {
	return e.tracker.Snapshot()
}

// Tracker exposes the progress tracker shared with observers.
func (e *Engine) Tracker() *progress.Tracker {
	return e.tracker
}

// Start launches a run on the background worker and returns immediately.
// It returns ErrRunActive, leaving progress untouched, when a run is active.
func (e *Engine) Start(req RunRequest) error {
	if !e.tracker.TryAcquire() {
		return testdeckerrors.NewEngineError(req.ModuleID, testdeckerrors.ErrRunActive)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.execute(context.Background(), req); err != nil {
			e.log.With("module", req.ModuleID).Error(err, "background run ended with error")
		}
	}()
	return nil
}

// Run executes synchronously on the calling goroutine.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*Summary, error) {
	if !e.tracker.TryAcquire() {
		return nil, testdeckerrors.NewEngineError(req.ModuleID, testdeckerrors.ErrRunActive)
	}
	return e.execute(ctx, req)
}

// Wait blocks until background runs started with Start have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// LastRun returns the most recent completed run.
func (e *Engine) LastRun() (Summary, bool) {
	e.lastMu.Lock()
	defer e.lastMu.Unlock()
	if e.last == nil {
		return Summary{}, false
	}
	return *e.last, true
}

// execute owns the tracker, which the caller has already acquired, and always
// releases it.
func (e *Engine) execute(ctx context.Context, req RunRequest) (summary *Summary, err error) {
	log := e.log.With("module", req.ModuleID)

	defer func() {
		if rec := recover(); rec != nil {
			err = testdeckerrors.NewEngineError(req.ModuleID, fmt.Errorf("panic: %v\n%s", rec, debug.Stack()))
			e.tracker.Fail(req.ModuleID, err)
			summary = nil
		}
	}()

	module, ok := e.registry.Module(req.ModuleID)
	if !ok {
		err := testdeckerrors.NewEngineError(req.ModuleID, testdeckerrors.ErrModuleNotFound)
		e.tracker.Fail(req.ModuleID, err)
		return nil, err
	}

	steps, vars, err := e.plan(module, req)
	if err != nil {
		err = testdeckerrors.NewEngineError(req.ModuleID, err)
		e.tracker.Fail(req.ModuleID, err)
		return nil, err
	}

	summary = &Summary{
		RunID:    uuid.NewString(),
		ModuleID: module.ID,
		TestID:   module.DisplayID,
		TestType: req.TestType,
		Module:   module,
		Results:  []model.RunResult{},
		Started:  e.now(),
	}

	if len(steps) == 0 {
		summary.Finished = summary.Started
		log.Warn("no resolvable steps")
		e.tracker.Empty(module.ID)
		return summary, testdeckerrors.NewEngineError(module.ID, testdeckerrors.ErrNoSteps)
	}

	policy := e.policy
	if req.Policy != nil {
		policy = *req.Policy
	}
	if policy.AbortStatus == "" {
		policy.AbortStatus = model.StatusSkipped
	}

	rc := model.NewRunContext(module.ID, vars)
	e.tracker.Begin(module.ID, module.DisplayID, req.TestType, len(steps))
	log.WithFields(map[string]any{"steps": len(steps), "fail_fast": policy.FailFast}).Info("run started")

	for i, step := range steps {
		index := i + 1
		e.tracker.Advance(index, step.Name)

		var res model.RunResult
		switch {
		case step.Missing:
			res = e.staticResult(index, step, model.StatusNotFound, notFoundLog)
		case rc.Abort:
			res = e.staticResult(index, step, policy.AbortStatus, skippedLog)
		default:
			res = e.invoke(ctx, rc, index, step)
			if policy.FailFast && (res.Status == model.StatusFail || res.Status == model.StatusError) {
				rc.Abort = true
			}
		}

		log.WithFields(map[string]any{"step": res.Name, "status": res.Status, "duration": res.Duration.String()}).Debug("step finished")
		summary.Results = append(summary.Results, res)
	}

	summary.Finished = e.now()
	e.complete(ctx, summary)

	log.WithFields(map[string]any{"status": summary.Status(), "report_id": summary.ReportID}).Info("run finished")
	e.tracker.Done()
	return summary, nil
}

// invoke runs one step, turning errors and panics into ERROR with zero duration.
func (e *Engine) invoke(ctx context.Context, rc *model.RunContext, index int, step plannedStep) (res model.RunResult) {
	start := e.now()
	res = model.RunResult{Index: index, Name: step.Name, TestType: step.TestType, Start: start}

	crashed := func(crash error, msg string) {
		e.log.WithFields(map[string]any{"module": rc.ModuleID, "step": step.Name}).Error(crash, "step crashed")
		res.Status = model.StatusError
		res.Color = res.Status.Color()
		res.Log = msg
		res.Stdout = ""
		res.Duration = 0
		res.Stop = start
	}

	defer func() {
		if rec := recover(); rec != nil {
			msg := fmt.Sprintf("%v", rec)
			crashed(testdeckerrors.NewStepCrash(step.Name, true, fmt.Errorf("%s\n%s", msg, debug.Stack())), msg)
		}
	}()

	out, err := step.Func(ctx, rc)
	if err != nil {
		crashed(testdeckerrors.NewStepCrash(step.Name, false, err), err.Error())
		return res
	}

	res.Stop = e.now()
	res.Duration = res.Stop.Sub(start)
	res.Log = out.Log
	res.Stdout = out.Stdout
	res.Status = model.StatusFail
	if out.Success {
		res.Status = model.StatusPass
	}
	res.Color = res.Status.Color()
	return res
}

func (e *Engine) staticResult(index int, step plannedStep, status model.Status, log string) model.RunResult {
	now := e.now()
	return model.RunResult{
		Index:    index,
		Name:     step.Name,
		TestType: step.TestType,
		Status:   status,
		Color:    status.Color(),
		Log:      log,
		Start:    now,
		Stop:     now,
	}
}

// complete hands the summary to every sink. Sink failures are logged, not returned:
// the run itself has already finished.
func (e *Engine) complete(ctx context.Context, summary *Summary) {
	for _, sink := range e.sinks {
		if err := sink.Complete(ctx, summary); err != nil {
			e.log.WithFields(map[string]any{"module": summary.ModuleID, "sink": sink.Name()}).Error(err, "run sink failed")
		}
	}

	e.lastMu.Lock()
	last := *summary
	e.last = &last
	e.lastMu.Unlock()
}
