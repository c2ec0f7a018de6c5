// Package server exposes the orchestration core as a small JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/alexisbeaulieu97/testdeck/internal/app/suite"
	"github.com/alexisbeaulieu97/testdeck/internal/discovery"
	"github.com/alexisbeaulieu97/testdeck/internal/editor"
	"github.com/alexisbeaulieu97/testdeck/internal/engine"
	"github.com/alexisbeaulieu97/testdeck/internal/logger"
	"github.com/alexisbeaulieu97/testdeck/internal/model"
	"github.com/alexisbeaulieu97/testdeck/internal/progress"
	"github.com/alexisbeaulieu97/testdeck/internal/report"
	testdeckerrors "github.com/alexisbeaulieu97/testdeck/pkg/errors"
)

const shutdownTimeout = 5 * time.Second

// Backend is the set of operations the API serves.
type Backend interface {
	Start(req engine.RunRequest) error
	Progress() progress.State
	Modules() []suite.ModuleInfo
	Types() []suite.TypeGroup
	FailedLoads() []discovery.LoadFailure
	Scan(ctx context.Context, force bool) (discovery.Result, error)
	AllReports(ctx context.Context, parent string) ([]report.Summary, error)
	LatestReport(ctx context.Context, testID string) (report.Latest, error)
	FailedSteps(ctx context.Context, testID, testType string) ([]report.FailedStep, error)
	History(ctx context.Context, testID string) (suite.History, error)
	ReplaceSteps(ctx context.Context, moduleID string, steps []model.StepSpec, dryRun bool) (*editor.Result, error)
	Functions(project string, reload bool) (map[string]map[string]any, error)
	MetricsHandler() http.Handler
}

// Server routes HTTP requests to a Backend.
type Server struct {
	backend Backend
	log     *logger.Logger
	mux     *http.ServeMux
}

// New creates a Server.
func New(backend Backend, log *logger.Logger) *Server {
	s := &Server{backend: backend, log: log.Component("server"), mux: http.NewServeMux()}

	s.mux.HandleFunc("POST /api/runs", s.handleStartRun)
	s.mux.HandleFunc("GET /api/progress", s.handleProgress)
	s.mux.HandleFunc("GET /api/modules", s.handleModules)
	s.mux.HandleFunc("PUT /api/modules/{id}/steps", s.handleReplaceSteps)
	s.mux.HandleFunc("GET /api/types", s.handleTypes)
	s.mux.HandleFunc("POST /api/scan", s.handleScan)
	s.mux.HandleFunc("GET /api/reports", s.handleReports)
	s.mux.HandleFunc("GET /api/reports/latest", s.handleLatest)
	s.mux.HandleFunc("GET /api/reports/failed", s.handleFailed)
	s.mux.HandleFunc("GET /api/reports/history", s.handleHistory)
	s.mux.HandleFunc("GET /api/projects/functions", s.handleFunctions)
	if metrics := backend.MetricsHandler(); metrics != nil {
		s.mux.Handle("GET /metrics", metrics)
	}
	return s
}

// Handler returns the routed handler wrapped with request logging.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		s.mux.ServeHTTP(rec, r)
		s.log.WithFields(map[string]any{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(started).String(),
		}).Debug("request served")
	})
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.With("addr", ln.Addr().String()).Info("api listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// runRequest is the body of POST /api/runs. Policy fields apply only when
// fail_fast is present.
type runRequest struct {
	ModuleID    string   `json:"module_id"`
	TestType    string   `json:"test_type,omitempty"`
	Steps       []string `json:"steps,omitempty"`
	FailFast    *bool    `json:"fail_fast,omitempty"`
	AbortStatus string   `json:"abort_status,omitempty"`
	Reload      bool     `json:"reload,omitempty"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if body.ModuleID == "" {
		writeError(w, http.StatusBadRequest, errors.New("module_id is required"))
		return
	}

	req := engine.RunRequest{
		ModuleID:       body.ModuleID,
		TestType:       body.TestType,
		Steps:          body.Steps,
		ReloadDispatch: body.Reload,
	}
	if body.FailFast != nil {
		req.Policy = &engine.Policy{FailFast: *body.FailFast, AbortStatus: engine.ParseAbortStatus(body.AbortStatus)}
	}

	if err := s.backend.Start(req); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "Started"})
}

func (s *Server) handleProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Progress())
}

type failureView struct {
	Path     string `json:"path"`
	ModuleID string `json:"module_id,omitempty"`
	Error    string `json:"error"`
}

func failureViews(failures []discovery.LoadFailure) []failureView {
	out := make([]failureView, 0, len(failures))
	for _, f := range failures {
		out = append(out, failureView{Path: f.Path, ModuleID: f.ModuleID, Error: f.Message()})
	}
	return out
}

func (s *Server) handleModules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"modules":      s.backend.Modules(),
		"failed_loads": failureViews(s.backend.FailedLoads()),
	})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	res, err := s.backend.Scan(r.Context(), force)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"loaded":       res.Loaded,
		"cached":       res.Cached,
		"failed_loads": failureViews(res.Failed),
		"duration":     res.Duration.String(),
	})
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.backend.AllReports(r.Context(), r.URL.Query().Get("parent"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := s.backend.LatestReport(r.Context(), r.URL.Query().Get("test_id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

func (s *Server) handleFailed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	testID := q.Get("test_id")
	if testID == "" {
		writeError(w, http.StatusBadRequest, errors.New("test_id is required"))
		return
	}
	steps, err := s.backend.FailedSteps(r.Context(), testID, q.Get("type"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"test_id": testID, "steps": steps})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	testID := r.URL.Query().Get("test_id")
	if testID == "" {
		writeError(w, http.StatusBadRequest, errors.New("test_id is required"))
		return
	}
	history, err := s.backend.History(r.Context(), testID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"types": s.backend.Types()})
}

type stepsRequest struct {
	Steps []model.StepSpec `json:"steps"`
}

func (s *Server) handleReplaceSteps(w http.ResponseWriter, r *http.Request) {
	var body stepsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))

	res, err := s.backend.ReplaceSteps(r.Context(), r.PathValue("id"), body.Steps, dryRun)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleFunctions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	project := q.Get("project")
	if project == "" {
		writeError(w, http.StatusBadRequest, errors.New("project is required"))
		return
	}
	reload, _ := strconv.ParseBool(q.Get("reload"))

	schemas, err := s.backend.Functions(project, reload)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": project, "functions": schemas})
}

func statusFor(err error) int {
	var (
		verr *testdeckerrors.ValidationError
		perr *testdeckerrors.ParseError
	)
	switch {
	case errors.Is(err, testdeckerrors.ErrRunActive):
		return http.StatusConflict
	case errors.Is(err, testdeckerrors.ErrModuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, editor.ErrUnsupportedFormat), errors.As(err, &verr), errors.As(err, &perr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
