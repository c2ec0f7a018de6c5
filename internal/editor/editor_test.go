package editor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/testdeck/internal/definition"
	"github.com/alexisbeaulieu97/testdeck/internal/model"
	testdeckerrors "github.com/alexisbeaulieu97/testdeck/pkg/errors"
)

const fixture = `# smoke suite
id: smoke
types: [package]
configuration:
  project: demo   # keep me
  steps:
    - action: build
      param: debug
    - action: deploy
      subaction: prod

  vars:
    target: prod
description: keep this line
`

var newSteps = []model.StepSpec{
	{Action: "lint"},
	{Action: "deploy", Subaction: "staging", Param: map[string]any{"region": "eu"}},
}

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	return path
}

func TestReplaceStepsKeepsSurroundingContent(t *testing.T) {
	t.Parallel()

	path := writeFixture(t, "__testlist__smoke.yaml", fixture)

	res, err := ReplaceSteps(path, newSteps, Options{})
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.True(t, res.Written)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	head := fixture[:strings.Index(fixture, "  steps:")]
	tail := fixture[strings.Index(fixture, "\n\n  vars:")+1:]
	require.True(t, strings.HasPrefix(content, head), content)
	require.True(t, strings.HasSuffix(content, tail), content)
	require.NotContains(t, content, "action: build")

	file, err := definition.Parse(path, data)
	require.NoError(t, err)
	require.Equal(t, newSteps, file.Configuration.Steps)
	require.Equal(t, "demo", file.Configuration.Project)
	require.Equal(t, map[string]string{"target": "prod"}, file.Configuration.Vars)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}

func TestReplaceStepsDryRunReturnsDiff(t *testing.T) {
	t.Parallel()

	path := writeFixture(t, "__testlist__smoke.yaml", fixture)

	res, err := ReplaceSteps(path, newSteps, Options{DryRun: true})
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.False(t, res.Written)
	require.Contains(t, res.Diff, "-    - action: build\n")
	require.Contains(t, res.Diff, "action: lint\n")
	require.Positive(t, res.Stat.Added)
	require.Positive(t, res.Stat.Removed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, fixture, string(data))
}

func TestReplaceStepsIsStableOnSecondWrite(t *testing.T) {
	t.Parallel()

	path := writeFixture(t, "__testlist__smoke.yml", fixture)

	_, err := ReplaceSteps(path, newSteps, Options{})
	require.NoError(t, err)

	res, err := ReplaceSteps(path, newSteps, Options{})
	require.NoError(t, err)
	require.False(t, res.Changed)
	require.False(t, res.Written)
	require.Empty(t, res.Diff)
}

func TestReplaceStepsAsLastBlock(t *testing.T) {
	t.Parallel()

	content := "id: tail\nconfiguration:\n  steps: [{action: build}]\n"
	path := writeFixture(t, "__testlist__tail.yaml", content)

	_, err := ReplaceSteps(path, []model.StepSpec{{Action: "ship", Param: "now"}}, Options{})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "id: tail\nconfiguration:\n  steps:\n"))

	file, err := definition.Parse(path, data)
	require.NoError(t, err)
	require.Equal(t, []model.StepSpec{{Action: "ship", Param: "now"}}, file.Configuration.Steps)
}

func TestReplaceStepsEmptyList(t *testing.T) {
	t.Parallel()

	path := writeFixture(t, "__testlist__smoke.yaml", fixture)

	_, err := ReplaceSteps(path, nil, Options{})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "  steps: []\n")
}

func TestReplaceStepsRejectsHCL(t *testing.T) {
	t.Parallel()

	path := writeFixture(t, "__testlist__smoke.hcl", "id = \"smoke\"\n")

	_, err := ReplaceSteps(path, newSteps, Options{})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestReplaceStepsRequiresConfiguration(t *testing.T) {
	t.Parallel()

	path := writeFixture(t, "__testlist__direct.yaml", "id: direct\nsteps:\n  - type: build\n    name: compile\n    run: make\n")

	_, err := ReplaceSteps(path, newSteps, Options{})
	var verr *testdeckerrors.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, err.Error(), "no configuration block")
}

func TestReplaceStepsRejectsInvalidSteps(t *testing.T) {
	t.Parallel()

	path := writeFixture(t, "__testlist__smoke.yaml", fixture)

	_, err := ReplaceSteps(path, []model.StepSpec{{Action: "bad-action"}}, Options{})
	require.ErrorContains(t, err, "edited definition is invalid")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, fixture, string(data))
}

func TestReplaceStepsMissingFile(t *testing.T) {
	t.Parallel()

	_, err := ReplaceSteps(filepath.Join(t.TempDir(), "__testlist__gone.yaml"), newSteps, Options{})
	require.ErrorIs(t, err, os.ErrNotExist)
}
