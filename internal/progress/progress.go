package progress

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Step labels used outside of a running step counter.
const (
	StepIdle  = "Idle"
	StepDone  = "Done"
	StepError = "Error"

	// NoTestsFound is the step name published for a run with nothing to execute.
	NoTestsFound = "No tests found"
)

// State is an immutable snapshot of the live run status.
type State struct {
	Step      string    `json:"step"`
	Active    bool      `json:"active"`
	ModuleID  string    `json:"active_module"`
	TestID    string    `json:"test_id,omitempty"`
	TestType  string    `json:"test_type,omitempty"`
	StepName  string    `json:"active_step_name"`
	Index     int       `json:"index"`
	Total     int       `json:"total"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker publishes State snapshots. One writer, any number of readers;
// readers never block.
type Tracker struct {
	state atomic.Pointer[State]
	// active guards run admission; it is separate from the published snapshot.
	active atomic.Bool
	now    func() time.Time
}

// NewTracker returns a Tracker in the idle state.
func NewTracker() *Tracker {
	t := &Tracker{now: time.Now}
	t.publish(State{Step: StepIdle})
	return t
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() State {
	return *t.state.Load()
}

// TryAcquire marks a run active. It returns false, changing nothing, when a run
// is already active.
func (t *Tracker) TryAcquire() bool {
	return t.active.CompareAndSwap(false, true)
}

// Active reports whether a run holds the tracker.
func (t *Tracker) Active() bool {
	return t.active.Load()
}

// Begin publishes the start of a run of total steps.
func (t *Tracker) Begin(moduleID, testID, testType string, total int) {
	t.publish(State{
		Step:     fmt.Sprintf("0/%d", total),
		Active:   true,
		ModuleID: moduleID,
		TestID:   testID,
		TestType: testType,
		Total:    total,
	})
}

// Advance publishes the step about to run; index is 1-based.
func (t *Tracker) Advance(index int, stepName string) {
	prev := t.Snapshot()
	prev.Step = fmt.Sprintf("%d/%d", index, prev.Total)
	prev.Index = index
	prev.StepName = stepName
	t.publish(prev)
}

// Empty publishes a run that found nothing to execute and releases the tracker.
func (t *Tracker) Empty(moduleID string) {
	t.publish(State{Step: StepDone, ModuleID: moduleID, StepName: NoTestsFound})
	t.active.Store(false)
}

// Done publishes completion and releases the tracker.
func (t *Tracker) Done() {
	prev := t.Snapshot()
	t.publish(State{Step: StepDone, ModuleID: prev.ModuleID, TestID: prev.TestID, TestType: prev.TestType, Index: prev.Total, Total: prev.Total})
	t.active.Store(false)
}

// Fail publishes a terminal engine error and releases the tracker.
func (t *Tracker) Fail(moduleID string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	t.publish(State{Step: StepError, ModuleID: moduleID, Error: msg})
	t.active.Store(false)
}

func (t *Tracker) publish(s State) {
	s.UpdatedAt = t.now()
	t.state.Store(&s)
}
