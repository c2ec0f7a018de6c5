package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/alexisbeaulieu97/testdeck/internal/progress"
	"github.com/alexisbeaulieu97/testdeck/internal/tui/components"
)

// View renders the current state of the model.
func (m Model) View() string {
	sections := []string{titleStyle.Render("testdeck • watch")}

	switch {
	case m.state.Active || m.finished:
		sections = append(sections, sectionStyle.Render("Progress"), m.progressView())
	case m.polls == 0:
		sections = append(sections, mutedStyle.Render("Connecting..."))
	default:
		sections = append(sections, mutedStyle.Render(fmt.Sprintf("Waiting for a run (%s)", m.state.Step)))
	}

	if entries := m.steps.Entries(); len(entries) > 0 {
		sections = append(sections, sectionStyle.Render("Steps"), m.renderSteps(entries))
	}

	summary := components.NewSummary(components.SummaryData{
		ModuleID: m.state.ModuleID,
		TestType: m.state.TestType,
		Step:     m.state.Step,
		Finished: m.finished,
		Failed:   m.state.Step == progress.StepError,
		Error:    m.state.Error,
		Observed: m.steps.Len(),
	}).View()
	if strings.TrimSpace(summary) != "" {
		sections = append(sections, summaryStyle.Render(summary))
	}

	if m.err != nil {
		sections = append(sections, failureStyle.Render("poll failed: "+m.err.Error()))
	}
	if !m.quitting {
		sections = append(sections, mutedStyle.Render("q to quit"))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) progressView() string {
	finished := m.state.Index - 1
	if m.finished || !m.state.Active {
		finished = m.state.Total
	}
	if finished < 0 {
		finished = 0
	}
	width := m.width - 20
	if width > 60 {
		width = 60
	}
	return components.NewProgress(m.state.Total, width).View(finished)
}

func (m Model) renderSteps(entries []components.StepEntry) string {
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		icon := successStyle.Render("✓")
		if entry.State == components.StepRunning {
			icon = m.spinner.View()
		}
		lines = append(lines, fmt.Sprintf(" %s %s", icon, entry.Name))
	}
	return strings.Join(lines, "\n")
}
