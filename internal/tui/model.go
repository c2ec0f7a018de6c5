package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/alexisbeaulieu97/testdeck/internal/progress"
	"github.com/alexisbeaulieu97/testdeck/internal/tui/components"
)

const (
	defaultInterval = 500 * time.Millisecond
	fetchTimeout    = 5 * time.Second
)

// StateMsg carries the result of one poll.
type StateMsg struct {
	State progress.State
	Err   error
}

type pollMsg struct{}

// Options tunes the watcher.
type Options struct {
	// Interval between polls.
	Interval time.Duration
	// ExitOnDone quits once a watched run reaches Done or Error.
	ExitOnDone bool
}

// Model is the Bubbletea state of the live progress watcher.
type Model struct {
	source     Source
	interval   time.Duration
	exitOnDone bool

	spinner spinner.Model
	state   progress.State
	steps   components.StepList
	err     error
	polls   int

	sawRun   bool
	finished bool
	quitting bool
	width    int
}

// NewModel creates a watcher reading from source.
func NewModel(source Source, opts Options) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = runningStyle

	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	return Model{
		source:     source,
		interval:   interval,
		exitOnDone: opts.ExitOnDone,
		spinner:    s,
		state:      progress.State{Step: progress.StepIdle},
		width:      80,
	}
}

// Init starts the spinner and the first poll.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

// State returns the last snapshot received.
func (m Model) State() progress.State {
	return m.state
}

// Steps returns the steps observed so far.
func (m Model) Steps() []components.StepEntry {
	return m.steps.Entries()
}

// IsFinished reports whether a watched run has ended.
func (m Model) IsFinished() bool {
	return m.finished
}

// Err returns the last polling error, if the most recent poll failed.
func (m Model) Err() error {
	return m.err
}

func (m Model) fetch() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		state, err := source.Progress(ctx)
		return StateMsg{State: state, Err: err}
	}
}

func (m Model) schedule() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return pollMsg{} })
}
