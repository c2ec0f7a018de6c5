package shell

import (
	"bytes"
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/testdeck/internal/model"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shell assumptions do not hold on Windows")
	}
}

func TestRun_Success(t *testing.T) {
	skipOnWindows(t)

	res, err := Run(context.Background(), Command{Script: "echo hello world"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Stdout)
	assert.Equal(t, "", res.Stderr)
	assert.Zero(t, res.ExitCode)
}

func TestRun_NonZeroExitIsNotAnError(t *testing.T) {
	skipOnWindows(t)

	res, err := Run(context.Background(), Command{Script: "echo 'error message' >&2; exit 3"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "error message", PrimaryOutput(res))
}

func TestRun_EchoesAndUsesEnvAndWorkDir(t *testing.T) {
	skipOnWindows(t)

	dir := t.TempDir()
	var echo bytes.Buffer
	res, err := Run(context.Background(), Command{
		Script:  "echo $GREETING; pwd",
		Env:     map[string]string{"GREETING": "hi"},
		WorkDir: dir,
		Echo:    &echo,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "hi")
	assert.Contains(t, echo.String(), "hi")
}

func TestRun_UnknownShell(t *testing.T) {
	skipOnWindows(t)

	_, err := Run(context.Background(), Command{Script: "true", Shell: "/definitely/not/a/shell"})
	require.Error(t, err)
}

func TestStep_MapsExitCodeToOutcome(t *testing.T) {
	skipOnWindows(t)

	rc := model.NewRunContext("m", map[string]string{"WORD": "linked"})

	out, err := Step(Command{Script: "echo ${WORD}"})(context.Background(), rc)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "linked", out.Stdout)

	out, err = Step(Command{Script: "echo nope >&2; exit 1"})(context.Background(), rc)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "exit status 1: nope", out.Log)
}

func TestStep_LeavesShellVariablesToTheShell(t *testing.T) {
	skipOnWindows(t)

	rc := model.NewRunContext("m", map[string]string{"WORD": "linked"})
	script := `for i in a b; do printf "%s" "$i"; done; false; echo "rc=$?" ${WORD} ${UNSET_NAME:-dflt}`

	out, err := Step(Command{Script: script})(context.Background(), rc)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "abrc=1 linked dflt", out.Stdout)

	out, err = Step(Command{Script: `test "$1" = ""; exit $?`})(context.Background(), rc)
	require.NoError(t, err)
	assert.True(t, out.Success)
}

func TestExpandOnlyKnownBracedNames(t *testing.T) {
	t.Setenv("TESTDECK_EXPAND_ENV", "from-env")

	vars := map[string]string{"x": "b"}
	assert.Equal(t, "a-b", Expand("a-${x}", vars))
	assert.Equal(t, "a-${TESTDECK_EXPAND_ENV}", Expand("a-${TESTDECK_EXPAND_ENV}", vars))
	assert.Equal(t, "$x $? $$ ${x:-y} ${1}", Expand("$x $? $$ ${x:-y} ${1}", vars))
	assert.Equal(t, "${x}", Expand("${x}", nil))
	assert.Equal(t, "", Expand("", vars))
}
