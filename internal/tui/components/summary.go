package components

import (
	"fmt"
	"strings"
)

// SummaryData describes the watched run.
type SummaryData struct {
	ModuleID string
	TestType string
	Step     string
	Finished bool
	Failed   bool
	Error    string
	Observed int
}

// Summary renders a textual footer for the watched run.
type Summary struct {
	data SummaryData
}

// NewSummary creates a Summary component.
func NewSummary(data SummaryData) Summary {
	return Summary{data: data}
}

// View renders the summary.
func (s Summary) View() string {
	var lines []string
	if s.data.ModuleID != "" {
		module := s.data.ModuleID
		if s.data.TestType != "" {
			module = fmt.Sprintf("%s (%s)", module, s.data.TestType)
		}
		lines = append(lines, "Module: "+module)
	}

	switch {
	case s.data.Failed:
		lines = append(lines, "Run failed: "+s.data.Error)
	case s.data.Finished && s.data.Observed > 0:
		lines = append(lines, fmt.Sprintf("Run finished after %d steps", s.data.Observed))
	case s.data.Finished:
		lines = append(lines, "Run finished")
	case s.data.Step != "":
		lines = append(lines, "Step: "+s.data.Step)
	}

	return strings.Join(lines, "\n")
}
