package components

// StepState is what the watcher knows about one observed step.
type StepState int

const (
	// StepRunning is the step the engine reported last.
	StepRunning StepState = iota
	// StepFinished is a step the engine has moved past.
	StepFinished
)

// StepEntry is one observed step.
type StepEntry struct {
	Index int
	Name  string
	State StepState
}

// StepList keeps observed steps in the order they were first reported.
type StepList struct {
	entries []StepEntry
}

// Observe records that the engine is about to run step index. Earlier steps
// are marked finished. Repeated reports of the same step are ignored.
func (s StepList) Observe(index int, name string) StepList {
	entries := make([]StepEntry, len(s.entries), len(s.entries)+1)
	copy(entries, s.entries)

	for i := range entries {
		if entries[i].Index == index {
			return StepList{entries: entries}
		}
		entries[i].State = StepFinished
	}
	entries = append(entries, StepEntry{Index: index, Name: name, State: StepRunning})
	return StepList{entries: entries}
}

// FinishAll marks every observed step finished.
func (s StepList) FinishAll() StepList {
	entries := make([]StepEntry, len(s.entries))
	copy(entries, s.entries)
	for i := range entries {
		entries[i].State = StepFinished
	}
	return StepList{entries: entries}
}

// Entries returns a copy of the observed steps.
func (s StepList) Entries() []StepEntry {
	clone := make([]StepEntry, len(s.entries))
	copy(clone, s.entries)
	return clone
}

// Len returns the number of observed steps.
func (s StepList) Len() int {
	return len(s.entries)
}
