package report

import (
	"context"
	"path/filepath"

	"github.com/alexisbeaulieu97/testdeck/internal/engine"
)

// Sink saves every completed run. It must run after the artifacts sink so the
// report path and screenshots are known.
type Sink struct {
	store      *Store
	reportsDir string
}

// NewSink creates a Sink writing to store. Report paths are stored relative to reportsDir.
func NewSink(store *Store, reportsDir string) *Sink {
	return &Sink{store: store, reportsDir: reportsDir}
}

// Name implements engine.Sink.
func (s *Sink) Name() string { return "report" }

// Complete implements engine.Sink.
func (s *Sink) Complete(ctx context.Context, run *engine.Summary) error {
	id, err := s.store.Save(ctx, IdentityFor(run, s.reportsDir), run.Results, run.Duration())
	if err != nil {
		return err
	}
	run.ReportID = id
	return nil
}

// IdentityFor derives the stored identity of a run.
func IdentityFor(run *engine.Summary, reportsDir string) Identity {
	path := run.ReportDir
	if reportsDir != "" && path != "" {
		if rel, err := filepath.Rel(reportsDir, path); err == nil {
			path = filepath.ToSlash(rel)
		}
	}

	parent := run.TestID
	if parent == "" {
		parent = run.ModuleID
	}
	return Identity{
		UUID:           run.RunID,
		Path:           path,
		TestID:         run.ModuleID,
		ParentTestName: parent,
		TestType:       run.TestType,
		Revision:       run.Revision,
	}
}
