package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/testdeck/internal/dispatch"
	"github.com/alexisbeaulieu97/testdeck/internal/logger"
	"github.com/alexisbeaulieu97/testdeck/internal/model"
	"github.com/alexisbeaulieu97/testdeck/internal/progress"
	"github.com/alexisbeaulieu97/testdeck/internal/registry"
	testdeckerrors "github.com/alexisbeaulieu97/testdeck/pkg/errors"
)

type countingStep struct {
	calls   atomic.Int32
	outcome model.Outcome
	err     error
}

func (c *countingStep) fn(context.Context, *model.RunContext) (model.Outcome, error) {
	c.calls.Add(1)
	return c.outcome, c.err
}

func newRegistry(t *testing.T, moduleID string, steps map[string]model.StepFunc, order ...string) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Module{ID: moduleID, DisplayID: "display-" + moduleID, Types: map[string]string{"build": moduleID}}))
	for _, name := range order {
		require.NoError(t, reg.RegisterStep(moduleID, "build", name, steps[name]))
	}
	return reg
}

func statuses(results []model.RunResult) []model.Status {
	out := make([]model.Status, 0, len(results))
	for _, r := range results {
		out = append(out, r.Status)
	}
	return out
}

func names(results []model.RunResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Name)
	}
	return out
}

func TestRunFailFastSkipsRemainingSteps(t *testing.T) {
	t.Parallel()

	compile := &countingStep{outcome: model.Pass("compiled")}
	link := &countingStep{outcome: model.Fail("undefined symbol")}
	pkg := &countingStep{outcome: model.Pass("packaged")}

	reg := newRegistry(t, "suite", map[string]model.StepFunc{
		"compile": compile.fn, "link": link.fn, "package": pkg.fn,
	}, "compile", "link", "package")

	summary, err := New(reg, nil, nil).Run(context.Background(), RunRequest{ModuleID: "suite"})
	require.NoError(t, err)

	require.Equal(t, []model.Status{model.StatusPass, model.StatusFail, model.StatusSkipped}, statuses(summary.Results))
	require.Equal(t, []string{"compile", "link", "package"}, names(summary.Results))
	require.Equal(t, "undefined symbol", summary.Results[1].Log)
	require.Equal(t, "red", summary.Results[1].Color)
	require.Equal(t, "Skipped", summary.Results[2].Log)
	require.Zero(t, summary.Results[2].Duration)
	require.EqualValues(t, 0, pkg.calls.Load())
	require.Equal(t, model.StatusFail, summary.Status())
	require.Equal(t, "display-suite", summary.TestID)
	require.NotEmpty(t, summary.RunID)
}

func TestRunWithoutFailFastInvokesEverything(t *testing.T) {
	t.Parallel()

	link := &countingStep{outcome: model.Fail("nope")}
	pkg := &countingStep{outcome: model.Pass("ok")}
	reg := newRegistry(t, "suite", map[string]model.StepFunc{"link": link.fn, "package": pkg.fn}, "link", "package")

	eng := New(reg, nil, nil, WithPolicy(Policy{FailFast: false}))
	first, err := eng.Run(context.Background(), RunRequest{ModuleID: "suite"})
	require.NoError(t, err)
	second, err := eng.Run(context.Background(), RunRequest{ModuleID: "suite"})
	require.NoError(t, err)

	require.Equal(t, []model.Status{model.StatusFail, model.StatusPass}, statuses(first.Results))
	require.Equal(t, names(first.Results), names(second.Results))
	require.Equal(t, statuses(first.Results), statuses(second.Results))
	require.EqualValues(t, 2, pkg.calls.Load())
}

func TestRunAbortStatusFail(t *testing.T) {
	t.Parallel()

	bad := &countingStep{outcome: model.Fail("x")}
	next := &countingStep{outcome: model.Pass("y")}
	reg := newRegistry(t, "suite", map[string]model.StepFunc{"bad": bad.fn, "next": next.fn}, "bad", "next")

	policy := Policy{FailFast: true, AbortStatus: model.StatusFail}
	summary, err := New(reg, nil, nil).Run(context.Background(), RunRequest{ModuleID: "suite", Policy: &policy})
	require.NoError(t, err)
	require.Equal(t, []model.Status{model.StatusFail, model.StatusFail}, statuses(summary.Results))
	require.EqualValues(t, 0, next.calls.Load())
}

func TestRunStepCanAbortExplicitly(t *testing.T) {
	t.Parallel()

	stopper := func(_ context.Context, rc *model.RunContext) (model.Outcome, error) {
		rc.Abort = true
		return model.Pass("stopping here"), nil
	}
	after := &countingStep{outcome: model.Pass("")}
	reg := newRegistry(t, "suite", map[string]model.StepFunc{"stop": stopper, "after": after.fn}, "stop", "after")

	summary, err := New(reg, nil, nil, WithPolicy(Policy{})).Run(context.Background(), RunRequest{ModuleID: "suite"})
	require.NoError(t, err)
	require.Equal(t, []model.Status{model.StatusPass, model.StatusSkipped}, statuses(summary.Results))
	require.EqualValues(t, 0, after.calls.Load())
}

func TestRunCrashesBecomeErrors(t *testing.T) {
	t.Parallel()

	boom := func(context.Context, *model.RunContext) (model.Outcome, error) {
		panic("index out of range")
	}
	broken := &countingStep{err: errors.New("socket closed")}
	fine := &countingStep{outcome: model.Outcome{Success: true, Log: "ok", Stdout: "out"}}
	reg := newRegistry(t, "suite", map[string]model.StepFunc{"boom": boom, "broken": broken.fn, "fine": fine.fn}, "boom", "broken", "fine")

	summary, err := New(reg, nil, nil, WithPolicy(Policy{})).Run(context.Background(), RunRequest{ModuleID: "suite"})
	require.NoError(t, err)

	require.Equal(t, []model.Status{model.StatusError, model.StatusError, model.StatusPass}, statuses(summary.Results))
	require.Equal(t, "index out of range", summary.Results[0].Log)
	require.Equal(t, "socket closed", summary.Results[1].Log)
	require.Zero(t, summary.Results[0].Duration)
	require.Zero(t, summary.Results[1].Duration)
	require.Equal(t, "gray", summary.Results[0].Color)
	require.Equal(t, "out", summary.Results[2].Stdout)
}

func TestRunErrorAbortsUnderFailFast(t *testing.T) {
	t.Parallel()

	broken := &countingStep{err: errors.New("socket closed")}
	after := &countingStep{outcome: model.Pass("")}
	reg := newRegistry(t, "suite", map[string]model.StepFunc{"broken": broken.fn, "after": after.fn}, "broken", "after")

	summary, err := New(reg, nil, nil).Run(context.Background(), RunRequest{ModuleID: "suite"})
	require.NoError(t, err)
	require.Equal(t, []model.Status{model.StatusError, model.StatusSkipped}, statuses(summary.Results))
}

func TestRunPublishesProgressBeforeEachStep(t *testing.T) {
	t.Parallel()

	tracker := progress.NewTracker()
	var seen []progress.State
	observe := func(context.Context, *model.RunContext) (model.Outcome, error) {
		seen = append(seen, tracker.Snapshot())
		return model.Pass(""), nil
	}
	reg := newRegistry(t, "suite", map[string]model.StepFunc{"one": observe, "two": observe}, "one", "two")

	_, err := New(reg, nil, tracker).Run(context.Background(), RunRequest{ModuleID: "suite"})
	require.NoError(t, err)

	require.Len(t, seen, 2)
	require.Equal(t, "1/2", seen[0].Step)
	require.Equal(t, "one", seen[0].StepName)
	require.Equal(t, "2/2", seen[1].Step)
	require.Equal(t, "two", seen[1].StepName)
	require.True(t, seen[1].Active)

	final := tracker.Snapshot()
	require.Equal(t, progress.StepDone, final.Step)
	require.False(t, final.Active)
}

func TestStartRejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	entered := make(chan struct{})
	block := func(context.Context, *model.RunContext) (model.Outcome, error) {
		close(entered)
		<-release
		return model.Pass(""), nil
	}
	reg := newRegistry(t, "suite", map[string]model.StepFunc{"block": block}, "block")

	eng := New(reg, nil, nil)
	require.NoError(t, eng.Start(RunRequest{ModuleID: "suite"}))
	<-entered

	before := eng.Progress()
	err := eng.Start(RunRequest{ModuleID: "suite"})
	require.ErrorIs(t, err, testdeckerrors.ErrRunActive)
	_, err = eng.Run(context.Background(), RunRequest{ModuleID: "suite"})
	require.ErrorIs(t, err, testdeckerrors.ErrRunActive)
	require.Equal(t, before, eng.Progress())

	close(release)
	eng.Wait()

	require.Equal(t, progress.StepDone, eng.Progress().Step)
	last, ok := eng.LastRun()
	require.True(t, ok)
	require.Equal(t, []model.Status{model.StatusPass}, statuses(last.Results))
}

func TestRunUnknownModule(t *testing.T) {
	t.Parallel()

	eng := New(registry.New(), nil, nil)
	summary, err := eng.Run(context.Background(), RunRequest{ModuleID: "ghost"})
	require.Nil(t, summary)

	var engineErr *testdeckerrors.EngineError
	require.ErrorAs(t, err, &engineErr)
	require.ErrorIs(t, err, testdeckerrors.ErrModuleNotFound)

	state := eng.Progress()
	require.Equal(t, progress.StepError, state.Step)
	require.False(t, state.Active)
	require.Contains(t, state.Error, "ghost")
}

func TestRunModuleWithoutSteps(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	require.NoError(t, reg.Register(registry.Module{ID: "empty"}))

	eng := New(reg, nil, nil)
	summary, err := eng.Run(context.Background(), RunRequest{ModuleID: "empty"})
	require.ErrorIs(t, err, testdeckerrors.ErrNoSteps)
	require.NotNil(t, summary)
	require.Empty(t, summary.Results)

	state := eng.Progress()
	require.Equal(t, progress.StepDone, state.Step)
	require.Equal(t, progress.NoTestsFound, state.StepName)
	require.False(t, eng.Tracker().Active())
}

func TestRunSelectedStepsAndTypes(t *testing.T) {
	t.Parallel()

	a := &countingStep{outcome: model.Pass("")}
	b := &countingStep{outcome: model.Pass("")}
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Module{ID: "suite"}))
	require.NoError(t, reg.RegisterStep("suite", "build", "build 1 - a", a.fn))
	require.NoError(t, reg.RegisterStep("suite", "play", "play 2 - b", b.fn))

	eng := New(reg, nil, nil)

	summary, err := eng.Run(context.Background(), RunRequest{ModuleID: "suite", Steps: []string{"play 2 - b", "ghost", "play 2 - b"}})
	require.NoError(t, err)
	require.Equal(t, []string{"play 2 - b", "ghost"}, names(summary.Results))
	require.Equal(t, []model.Status{model.StatusPass, model.StatusNotFound}, statuses(summary.Results))
	require.Equal(t, "No matching test found", summary.Results[1].Log)

	summary, err = eng.Run(context.Background(), RunRequest{ModuleID: "suite", TestType: "build"})
	require.NoError(t, err)
	require.Equal(t, []string{"build 1 - a"}, names(summary.Results))
	require.Equal(t, "build", summary.TestType)
}

func TestRunDeclarativeMissingFunction(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, dispatch.HelperFile), []byte("functions:\n  build:\n    kind: set_var\n    args: [{name: name, default: built}, {name: value, default: yes}]\n"), 0o644))

	reg := registry.New()
	require.NoError(t, reg.Register(registry.Module{
		ID:         "deploy",
		SourcePath: filepath.Join(dir, "__testlist__deploy.yaml"),
		ConfigType: "package",
		Configuration: &model.Configuration{
			Steps: []model.StepSpec{{Action: "deploy_prod"}},
		},
	}))

	eng := New(reg, dispatch.NewLoader(nil, logger.Nop()), nil)
	summary, err := eng.Run(context.Background(), RunRequest{ModuleID: "deploy"})
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	res := summary.Results[0]
	require.Equal(t, model.StatusFail, res.Status)
	require.Contains(t, res.Name, "Missing")
	require.Equal(t, "1 - Missing deploy_prod", res.Name)
	require.Equal(t, "Function deploy_prod not found in dispatch", res.Log)
	require.Equal(t, "package", res.TestType)
}

func TestRunDeclarativeSharesRunContext(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	helper := `
functions:
  remember:
    kind: set_var
    args: [{name: name}, {name: value}]
  check:
    kind: fail
    args: [{name: message}]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, dispatch.HelperFile), []byte(helper), 0o644))

	reg := registry.New()
	require.NoError(t, reg.Register(registry.Module{
		ID:         "flow",
		SourcePath: filepath.Join(dir, "__testlist__flow.yaml"),
		Configuration: &model.Configuration{
			Vars: map[string]string{"env": "staging"},
			Steps: []model.StepSpec{
				{Action: "remember", Param: map[string]any{"name": "target", "value": "${env}-eu"}},
				{Action: "check", Param: "failed on ${target}"},
				{Action: "remember", Param: map[string]any{"name": "never", "value": "x"}},
			},
		},
	}))

	eng := New(reg, dispatch.NewLoader(nil, logger.Nop()), nil)
	summary, err := eng.Run(context.Background(), RunRequest{ModuleID: "flow"})
	require.NoError(t, err)

	require.Equal(t, []string{"1 - remember", "2 - check", "3 - remember"}, names(summary.Results))
	require.Equal(t, []model.Status{model.StatusPass, model.StatusFail, model.StatusSkipped}, statuses(summary.Results))
	require.Equal(t, "target=staging-eu", summary.Results[0].Log)
	require.Equal(t, "failed on staging-eu", summary.Results[1].Log)
}

func TestRunDeclarativeWithoutLoader(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	require.NoError(t, reg.Register(registry.Module{ID: "d", Configuration: &model.Configuration{Steps: []model.StepSpec{{Action: "x"}}}}))

	eng := New(reg, nil, nil)
	_, err := eng.Run(context.Background(), RunRequest{ModuleID: "d"})
	var engineErr *testdeckerrors.EngineError
	require.ErrorAs(t, err, &engineErr)
	require.Equal(t, progress.StepError, eng.Progress().Step)
}

func TestSinksRunInOrderAndAnnotate(t *testing.T) {
	t.Parallel()

	ok := &countingStep{outcome: model.Pass("")}
	reg := newRegistry(t, "suite", map[string]model.StepFunc{"ok": ok.fn}, "ok")

	var order []string
	first := SinkFunc{Label: "artifacts", Fn: func(_ context.Context, run *Summary) error {
		order = append(order, "artifacts")
		run.ReportDir = "/reports/20250101_000000"
		return nil
	}}
	failing := SinkFunc{Label: "broken", Fn: func(context.Context, *Summary) error {
		order = append(order, "broken")
		return errors.New("disk full")
	}}
	last := SinkFunc{Label: "store", Fn: func(_ context.Context, run *Summary) error {
		order = append(order, "store:"+run.ReportDir)
		run.ReportID = 42
		return nil
	}}

	eng := New(reg, nil, nil, WithSink(first), WithSink(failing), WithSink(last), WithLogger(logger.Nop()))
	summary, err := eng.Run(context.Background(), RunRequest{ModuleID: "suite"})
	require.NoError(t, err)

	require.Equal(t, []string{"artifacts", "broken", "store:/reports/20250101_000000"}, order)
	require.EqualValues(t, 42, summary.ReportID)

	lastRun, found := eng.LastRun()
	require.True(t, found)
	require.EqualValues(t, 42, lastRun.ReportID)
}

func TestRunRecordsTimestamps(t *testing.T) {
	t.Parallel()

	slow := func(context.Context, *model.RunContext) (model.Outcome, error) {
		time.Sleep(5 * time.Millisecond)
		return model.Pass(""), nil
	}
	reg := newRegistry(t, "suite", map[string]model.StepFunc{"slow": slow}, "slow")

	summary, err := New(reg, nil, nil).Run(context.Background(), RunRequest{ModuleID: "suite"})
	require.NoError(t, err)

	res := summary.Results[0]
	require.GreaterOrEqual(t, res.Duration, 5*time.Millisecond)
	require.Equal(t, res.Duration, res.Stop.Sub(res.Start))
	require.False(t, summary.Finished.Before(summary.Started))
	require.Equal(t, res.Duration, summary.Duration())
}

func TestParseAbortStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, model.StatusFail, ParseAbortStatus("fail"))
	require.Equal(t, model.StatusSkipped, ParseAbortStatus("SKIPPED"))
	require.Equal(t, model.StatusSkipped, ParseAbortStatus(""))
}

func TestProjectDir(t *testing.T) {
	t.Parallel()

	m := registry.Module{SourcePath: "/tests/suite/__testlist__a.yaml"}
	require.Equal(t, "/tests/suite", ProjectDir(m))

	m.Configuration = &model.Configuration{Project: "../projects/alpha"}
	require.Equal(t, "/tests/projects/alpha", ProjectDir(m))

	m.Configuration.Project = "/abs/project"
	require.Equal(t, "/abs/project", ProjectDir(m))
}
