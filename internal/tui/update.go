package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/alexisbeaulieu97/testdeck/internal/progress"
	"github.com/alexisbeaulieu97/testdeck/internal/tui/components"
)

// Update handles Bubbletea messages and updates model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case StateMsg:
		m.polls++
		if msg.Err != nil {
			m.err = msg.Err
			return m, m.schedule()
		}
		m.err = nil
		m.apply(msg.State)
		if m.finished && m.exitOnDone {
			m.quitting = true
			return m, tea.Quit
		}
		return m, m.schedule()
	case pollMsg:
		if m.quitting {
			return m, nil
		}
		return m, m.fetch()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

func (m *Model) apply(state progress.State) {
	if state.Active && m.finished {
		// A new run started after the one we watched.
		m.steps = components.StepList{}
		m.finished = false
	}
	m.state = state

	if state.Active {
		m.sawRun = true
		if state.Index > 0 {
			m.steps = m.steps.Observe(state.Index, state.StepName)
		}
		return
	}

	switch state.Step {
	case progress.StepDone, progress.StepError:
		if m.sawRun || m.exitOnDone {
			m.steps = m.steps.FinishAll()
			m.finished = true
		}
	}
}
