package vcs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-git/go-git/v5"

	"github.com/alexisbeaulieu97/testdeck/internal/engine"
)

// Info identifies the checked-out revision of a test tree.
type Info struct {
	Hash   string `json:"hash"`
	Branch string `json:"branch,omitempty"`
}

// Short returns the abbreviated hash.
func (i Info) Short() string {
	if len(i.Hash) > 12 {
		return i.Hash[:12]
	}
	return i.Hash
}

// Revision reads HEAD of the repository containing path. A path outside any
// repository returns a zero Info and no error.
func Revision(path string) (Info, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return Info{}, nil
		}
		return Info{}, fmt.Errorf("open repository: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return Info{}, fmt.Errorf("read HEAD: %w", err)
	}

	info := Info{Hash: head.Hash().String()}
	if head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	}
	return info, nil
}

// Sink stamps each run with the revision of the tree its module was loaded from.
// Register it ahead of the sinks that persist the run.
type Sink struct {
	root string
}

// NewSink creates a Sink. root is used when a module has no source path.
func NewSink(root string) *Sink {
	return &Sink{root: root}
}

// Name implements engine.Sink.
func (s *Sink) Name() string { return "vcs" }

// Complete implements engine.Sink.
func (s *Sink) Complete(_ context.Context, run *engine.Summary) error {
	dir := s.root
	if run.Module.SourcePath != "" {
		dir = filepath.Dir(run.Module.SourcePath)
	}
	if dir == "" {
		return nil
	}

	info, err := Revision(dir)
	if err != nil {
		return err
	}
	run.Revision = info.Hash
	return nil
}
