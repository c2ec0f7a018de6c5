package main

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/alexisbeaulieu97/testdeck/internal/model"
)

func statusText(status model.Status) string {
	s := string(status)
	switch status {
	case model.StatusPass:
		return color.GreenString(s)
	case model.StatusFail, model.StatusError:
		return color.RedString(s)
	case model.StatusNotFound:
		return color.YellowString(s)
	case model.StatusSkipped:
		return color.HiBlackString(s)
	default:
		return s
	}
}

func isTerminal(w io.Writer) bool {
	if file, ok := w.(*os.File); ok {
		return term.IsTerminal(int(file.Fd()))
	}
	return false
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func formatSeconds(seconds float64) string {
	return (time.Duration(seconds * float64(time.Second))).Round(time.Millisecond).String()
}

// firstLines trims output to at most n lines for terminal display.
func firstLines(text string, n int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:n], "\n") + "\n..."
}
