package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/testdeck/internal/logger"
	"github.com/alexisbeaulieu97/testdeck/internal/model"
	testdeckerrors "github.com/alexisbeaulieu97/testdeck/pkg/errors"
)

const helperYAML = `
functions:
  build:
    kind: command
    description: compile the project
    args:
      - name: target
        default: all
    run: echo building ${target}
  deploy_prod:
    kind: set_var
    args:
      - name: name
        default: deployed
      - name: value
  check_file:
    kind: file_exists
    args:
      - name: path
      - name: context
  _internal:
    kind: fail
`

func writeHelper(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, HelperFile), []byte(content), 0o644))
}

func TestLoaderReadsPublicFunctions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeHelper(t, dir, helperYAML)

	table, err := NewLoader(nil, logger.Nop()).Load(dir, false)
	require.NoError(t, err)
	require.Equal(t, []string{"build", "check_file", "deploy_prod"}, table.Names())

	_, ok := table.Lookup("_internal")
	require.False(t, ok)
}

func TestLoaderSchemasExcludeReservedArgs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeHelper(t, dir, helperYAML)

	table, err := NewLoader(nil, logger.Nop()).Load(dir, false)
	require.NoError(t, err)

	schemas := table.Schemas()
	require.Equal(t, map[string]any{"target": "all"}, schemas["build"])
	require.Equal(t, map[string]any{"path": ""}, schemas["check_file"])
	require.Equal(t, map[string]any{"name": "deployed", "value": ""}, schemas["deploy_prod"])
}

func TestLoaderCachesUntilForced(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeHelper(t, dir, helperYAML)
	loader := NewLoader(nil, logger.Nop())

	first, err := loader.Load(dir, false)
	require.NoError(t, err)

	writeHelper(t, dir, "functions:\n  only:\n    kind: fail\n")

	cached, err := loader.Load(dir, false)
	require.NoError(t, err)
	require.Same(t, first, cached)
	require.Equal(t, 3, cached.Len())

	reloaded, err := loader.Load(dir, true)
	require.NoError(t, err)
	require.Equal(t, []string{"only"}, reloaded.Names())

	got, ok := loader.Cached(dir)
	require.True(t, ok)
	require.Same(t, reloaded, got)

	loader.Invalidate()
	_, ok = loader.Cached(dir)
	require.False(t, ok)
}

func TestLoaderMissingHelperYieldsEmptyTable(t *testing.T) {
	t.Parallel()

	table, err := NewLoader(nil, logger.Nop()).Load(t.TempDir(), false)
	require.NoError(t, err)
	require.Zero(t, table.Len())
}

func TestLoaderRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeHelper(t, dir, "functions:\n  teleport:\n    kind: quantum\n")

	_, err := NewLoader(nil, logger.Nop()).Load(dir, false)
	var validationErr *testdeckerrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, "functions.teleport", validationErr.Field)
}

func TestLoaderRejectsMalformedHelper(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeHelper(t, dir, "functions: [oops\n")

	_, err := NewLoader(nil, logger.Nop()).Load(dir, false)
	var parseErr *testdeckerrors.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestResolveMissingKeyProducesPlaceholder(t *testing.T) {
	t.Parallel()

	table := &Table{functions: map[string]Function{}}
	cfg := &model.Configuration{Steps: []model.StepSpec{{Action: "deploy_prod"}}}

	resolutions := Resolve(table, cfg)
	require.Len(t, resolutions, 1)

	unresolved, ok := resolutions[0].(Unresolved)
	require.True(t, ok)
	require.Equal(t, "1 - Missing deploy_prod", unresolved.StepName())
	require.Equal(t, "deploy_prod", unresolved.LookupKey())

	var resolutionErr *testdeckerrors.ResolutionError
	require.ErrorAs(t, unresolved.Err, &resolutionErr)

	out, err := unresolved.StepFunc()(context.Background(), model.NewRunContext("m", nil))
	require.NoError(t, err)
	require.False(t, out.Success)
	require.Equal(t, "Function deploy_prod not found in dispatch", out.Log)
}

func TestResolveNamesAndKeys(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, Call) (model.Outcome, error) { return model.Pass("ok"), nil }
	table := &Table{functions: map[string]Function{
		"deploy_prod": {Name: "deploy_prod", Handler: noop},
		"build":       {Name: "build", Handler: noop},
	}}
	cfg := &model.Configuration{Steps: []model.StepSpec{
		{Action: "build"},
		{Action: "deploy", Subaction: "prod"},
		{Action: "build"},
		{Action: "deploy", Subaction: "staging"},
	}}

	var names []string
	for _, res := range Resolve(table, cfg) {
		names = append(names, res.StepName())
	}
	require.Equal(t, []string{"1 - build", "2 - deploy_prod", "3 - build", "4 - Missing deploy_staging"}, names)
	require.Nil(t, Resolve(table, nil))
}

func TestResolvedStepFuncContainsCrashes(t *testing.T) {
	t.Parallel()

	kinds := NewKinds()
	require.NoError(t, kinds.Register("explode", func(string, FunctionSpec) (Handler, error) {
		return func(context.Context, Call) (model.Outcome, error) {
			var m map[string]int
			m["boom"] = 1
			return model.Pass("unreachable"), nil
		}, nil
	}))
	require.NoError(t, kinds.Register("broken", func(string, FunctionSpec) (Handler, error) {
		return func(context.Context, Call) (model.Outcome, error) {
			return model.Outcome{}, errors.New("connection refused")
		}, nil
	}))

	dir := t.TempDir()
	writeHelper(t, dir, "functions:\n  explode:\n    kind: explode\n  broken:\n    kind: broken\n")
	table, err := NewLoader(kinds, logger.Nop()).Load(dir, false)
	require.NoError(t, err)

	cfg := &model.Configuration{Steps: []model.StepSpec{{Action: "explode"}, {Action: "broken"}}}
	resolutions := Resolve(table, cfg)
	rc := model.NewRunContext("m", nil)

	out, err := resolutions[0].StepFunc()(context.Background(), rc)
	require.NoError(t, err)
	require.False(t, out.Success)
	require.Contains(t, out.Log, "panicked")

	out, err = resolutions[1].StepFunc()(context.Background(), rc)
	require.NoError(t, err)
	require.False(t, out.Success)
	require.Contains(t, out.Log, "connection refused")
}

func TestBindParams(t *testing.T) {
	t.Parallel()

	fn := Function{Spec: FunctionSpec{Args: []ArgSpec{{Name: "context"}, {Name: "target", Default: "all"}, {Name: "level", Default: 1}}}}

	require.Equal(t, map[string]any{"target": "all", "level": 1}, bindParams(fn, nil))
	require.Equal(t, map[string]any{"target": "lib", "level": 1}, bindParams(fn, "lib"))
	require.Equal(t, map[string]any{"target": "all", "level": 3, "extra": true}, bindParams(fn, map[string]any{"level": 3, "extra": true}))
	require.Equal(t, map[string]any{"param": 5}, bindParams(Function{}, 5))
}

func TestKindsRejectDuplicates(t *testing.T) {
	t.Parallel()

	kinds := Builtins()
	require.Error(t, kinds.Register("command", commandKind))
	require.Error(t, kinds.Register("nil", nil))
	require.Contains(t, kinds.Names(), "http_check")
}

func TestBuiltinKinds(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shell assumptions do not hold on Windows")
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "build.log"), []byte("BUILD SUCCESSFUL in 3s"), 0o644))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	writeHelper(t, dir, `
functions:
  build:
    kind: command
    args: [{name: target, default: all}]
    run: echo building ${target} for ${platform}
  remember:
    kind: set_var
    args: [{name: name}, {name: value}]
  log_exists:
    kind: file_exists
    args: [{name: path}]
  log_ok:
    kind: file_contains
    args: [{name: path}, {name: pattern}]
  health:
    kind: http_check
    args: [{name: url}, {name: status, default: 200}]
  stop:
    kind: fail
    args: [{name: message}]
`)

	table, err := NewLoader(nil, logger.Nop()).Load(dir, false)
	require.NoError(t, err)

	cfg := &model.Configuration{Steps: []model.StepSpec{
		{Action: "remember", Param: map[string]any{"name": "platform", "value": "linux"}},
		{Action: "build", Param: "engine"},
		{Action: "log_exists", Param: "build.log"},
		{Action: "log_ok", Param: map[string]any{"path": "build.log", "pattern": "SUCCESS(FUL)?"}},
		{Action: "log_ok", Param: map[string]any{"path": "build.log", "pattern": "FAILED"}},
		{Action: "health", Param: server.URL + "/ok"},
		{Action: "health", Param: server.URL + "/missing"},
		{Action: "stop", Param: "manual stop"},
	}}

	rc := model.NewRunContext("m", nil)
	var outcomes []model.Outcome
	for _, res := range Resolve(table, cfg) {
		out, err := res.StepFunc()(context.Background(), rc)
		require.NoError(t, err)
		outcomes = append(outcomes, out)
	}

	assert.True(t, outcomes[0].Success)
	assert.Equal(t, "linux", rc.Vars["platform"])
	assert.True(t, outcomes[1].Success)
	assert.Equal(t, "building engine for linux", outcomes[1].Stdout)
	assert.True(t, outcomes[2].Success)
	assert.True(t, outcomes[3].Success)
	assert.False(t, outcomes[4].Success)
	assert.True(t, outcomes[5].Success)
	assert.False(t, outcomes[6].Success)
	assert.False(t, outcomes[7].Success)
	assert.Equal(t, "manual stop", outcomes[7].Log)
}
