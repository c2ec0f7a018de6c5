package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/alexisbeaulieu97/testdeck/internal/progress"
)

// Source yields progress snapshots.
type Source interface {
	Progress(ctx context.Context) (progress.State, error)
}

// SourceFunc adapts a function into a Source.
type SourceFunc func(ctx context.Context) (progress.State, error)

// Progress calls f.
func (f SourceFunc) Progress(ctx context.Context) (progress.State, error) { return f(ctx) }

// HTTPSource polls the progress endpoint of a running API server.
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource creates a Source for the server at baseURL. A nil client uses
// http.DefaultClient.
func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	base := strings.TrimRight(baseURL, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &HTTPSource{url: base + "/api/progress", client: client}
}

// Progress fetches one snapshot.
func (s *HTTPSource) Progress(ctx context.Context) (progress.State, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return progress.State{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return progress.State{}, fmt.Errorf("poll progress: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return progress.State{}, fmt.Errorf("poll progress: unexpected status %s", resp.Status)
	}

	var state progress.State
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return progress.State{}, fmt.Errorf("decode progress: %w", err)
	}
	return state, nil
}
