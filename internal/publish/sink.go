package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/alexisbeaulieu97/testdeck/internal/engine"
	"github.com/alexisbeaulieu97/testdeck/internal/logger"
)

// Sink uploads the files of a run directory to an object store under
// <module>/<run dir name>/.
type Sink struct {
	provider Provider
	log      *logger.Logger
}

// NewSink creates a publishing Sink.
func NewSink(provider Provider, log *logger.Logger) *Sink {
	return &Sink{provider: provider, log: log.Component("publish")}
}

// Name implements engine.Sink.
func (s *Sink) Name() string { return "publish" }

// Complete implements engine.Sink.
func (s *Sink) Complete(ctx context.Context, run *engine.Summary) error {
	if run.ReportDir == "" {
		return errors.New("run has no report directory to publish")
	}

	entries, err := os.ReadDir(run.ReportDir)
	if err != nil {
		return fmt.Errorf("list run directory: %w", err)
	}

	base := path.Join(run.ModuleID, filepath.Base(run.ReportDir))
	var uploaded int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key := path.Join(base, entry.Name())
		if _, err := s.provider.Upload(ctx, key, filepath.Join(run.ReportDir, entry.Name())); err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
		uploaded++
	}

	s.log.WithFields(map[string]any{"module": run.ModuleID, "files": uploaded, "key": base}).Info("run artifacts published")
	return nil
}
