package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"sync"

	"github.com/alexisbeaulieu97/testdeck/internal/model"
)

// Command describes one shell invocation made by a step.
type Command struct {
	Script  string
	Shell   string
	WorkDir string
	Env     map[string]string
	// Echo receives a live copy of stdout and stderr when set.
	Echo io.Writer
}

// Result captures stdout/stderr emitted by a command run.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes the command and collects its output. A non-zero exit is reported
// through ExitCode with a nil error; errors are reserved for commands that could
// not be started at all.
func Run(ctx context.Context, c Command) (Result, error) {
	shell, shellArgs, err := determineShell(c.Shell)
	if err != nil {
		return Result{}, err
	}

	args := append(shellArgs, c.Script)
	cmd := exec.CommandContext(ctx, shell, args...)
	cmd.Env = buildEnv(c.Env)
	if c.WorkDir != "" {
		cmd.Dir = c.WorkDir
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	if c.Echo != nil {
		echo := &lockedWriter{w: c.Echo}
		cmd.Stdout = io.MultiWriter(echo, &stdoutBuf)
		cmd.Stderr = io.MultiWriter(echo, &stderrBuf)
	} else {
		cmd.Stdout = &stdoutBuf
		cmd.Stderr = &stderrBuf
	}

	runErr := cmd.Run()
	res := Result{
		Stdout: strings.TrimSpace(stdoutBuf.String()),
		Stderr: strings.TrimSpace(stderrBuf.String()),
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("run %s: %w", shell, runErr)
	}
	return res, nil
}

// lockedWriter serialises the stdout and stderr copiers sharing one Echo.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// PrimaryOutput returns stderr if present, otherwise stdout.
func PrimaryOutput(res Result) string {
	if res.Stderr != "" {
		return res.Stderr
	}
	return res.Stdout
}

// Step adapts a command into a step function. Exit code 0 passes.
func Step(c Command) model.StepFunc {
	return func(ctx context.Context, rc *model.RunContext) (model.Outcome, error) {
		cmd := c
		if rc != nil {
			cmd.Script = Expand(c.Script, rc.Vars)
			cmd.WorkDir = Expand(c.WorkDir, rc.Vars)
		}

		res, err := Run(ctx, cmd)
		if err != nil {
			return model.Outcome{}, err
		}
		if res.ExitCode != 0 {
			msg := fmt.Sprintf("exit status %d", res.ExitCode)
			if out := PrimaryOutput(res); out != "" {
				msg = msg + ": " + out
			}
			return model.Outcome{Success: false, Log: msg, Stdout: res.Stdout}, nil
		}
		return model.Outcome{Success: true, Log: "command executed", Stdout: res.Stdout}, nil
	}
}

var varRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Expand substitutes ${name} references whose name is a key of vars. Every
// other byte, including $name, $? and unknown ${name}, is left for the shell.
func Expand(value string, vars map[string]string) string {
	if value == "" || len(vars) == 0 {
		return value
	}
	return varRef.ReplaceAllStringFunc(value, func(ref string) string {
		if replacement, ok := vars[ref[2:len(ref)-1]]; ok {
			return replacement
		}
		return ref
	})
}

func determineShell(explicit string) (string, []string, error) {
	if explicit != "" {
		return explicit, []string{"-c"}, nil
	}

	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C"}, nil
	}

	if path, err := exec.LookPath("bash"); err == nil {
		return path, []string{"-c"}, nil
	}

	if path, err := exec.LookPath("sh"); err == nil {
		return path, []string{"-c"}, nil
	}

	return "", nil, fmt.Errorf("no suitable shell found")
}

func buildEnv(custom map[string]string) []string {
	env := os.Environ()
	for k, v := range custom {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
