package web

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/JonMunkholm/propertysales/internal/logging"
	"github.com/JonMunkholm/propertysales/internal/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Run states.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// Run is one extraction started over HTTP.
type Run struct {
	ID         string           `json:"id"`
	State      string           `json:"state"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Result     *pipeline.Result `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// runStore keeps the most recent runs in memory, newest last.
type runStore struct {
	mu    sync.RWMutex
	max   int
	order []string
	byID  map[string]*Run
}

func newRunStore(max int) *runStore {
	if max <= 0 {
		max = 50
	}
	return &runStore{max: max, byID: make(map[string]*Run)}
}

// add records r, evicting the oldest finished runs beyond the limit.
func (s *runStore) add(r *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID[r.ID] = r
	s.order = append(s.order, r.ID)

	for i := 0; len(s.order) > s.max && i < len(s.order); {
		id := s.order[i]
		if s.byID[id].State == RunRunning {
			i++
			continue
		}
		delete(s.byID, id)
		s.order = append(s.order[:i], s.order[i+1:]...)
	}
}

// finish stores the outcome of run id.
func (s *runStore) finish(id string, res *pipeline.Result, err error, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[id]
	if !ok {
		return
	}
	r.FinishedAt = &at
	r.Result = res
	switch {
	case err == nil:
		r.State = RunSucceeded
	case pipelineCancelled(err):
		r.State = RunCancelled
		r.Error = err.Error()
	default:
		r.State = RunFailed
		r.Error = err.Error()
	}
}

// get returns a copy of run id.
func (s *runStore) get(id string) (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return Run{}, false
	}
	return *r, true
}

// list returns copies of all runs, newest first.
func (s *runStore) list() []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Run, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, *s.byID[s.order[i]])
	}
	return out
}

// StartRun starts an extraction in the background and returns its
// initial state. It waits up to the configured run wait time for a free
// slot and fails with pipeline.ErrTooManyRuns when none frees up.
func (s *Server) StartRun(ctx context.Context) (Run, error) {
	if s.runCtx.Err() != nil {
		return Run{}, errShuttingDown
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return Run{}, err
	}

	run := &Run{
		ID:        uuid.NewString(),
		State:     RunRunning,
		StartedAt: time.Now().UTC(),
	}
	s.runs.add(run)
	snapshot := *run

	logger := logging.WithFields(ctx, "run_id", run.ID)
	logger.Info("run started")

	s.wg.Add(1)
	go func(id string) {
		defer s.wg.Done()
		defer s.limiter.Release()

		runCtx, cancel := s.runContext()
		defer cancel()

		res, err := s.run(runCtx)
		s.runs.finish(id, res, err, time.Now().UTC())
		if err != nil {
			logger.Error("run failed", "error", err)
			return
		}
		logger.Info("run finished", "rows", res.Rows)
	}(run.ID)

	return snapshot, nil
}

// handleStartRun answers 202 with the new run, 429 when another run holds
// every slot and 503 during shutdown.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.StartRun(r.Context())
	switch {
	case errors.Is(err, pipeline.ErrTooManyRuns):
		w.Header().Set("Retry-After", "30")
		respondError(w, r, err, http.StatusTooManyRequests)
		return
	case err != nil:
		respondError(w, r, err, http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Location", "/api/runs/"+run.ID)
	writeJSON(w, r, http.StatusAccepted, run)
}

// runContext derives a run's context from the server lifetime, bounded by
// the configured run timeout.
func (s *Server) runContext() (context.Context, context.CancelFunc) {
	if s.cfg.RunTimeout > 0 {
		return context.WithTimeout(s.runCtx, s.cfg.RunTimeout)
	}
	return context.WithCancel(s.runCtx)
}

func pipelineCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// handleListRuns returns the retained runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"runs":    s.runs.list(),
		"limiter": s.limiter.Status(),
	})
}

// handleGetRun returns one run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	if _, err := uuid.Parse(id); err != nil {
		respondError(w, r, errInvalidRunID, http.StatusBadRequest)
		return
	}

	run, ok := s.runs.get(id)
	if !ok {
		respondError(w, r, errRunNotFound, http.StatusNotFound)
		return
	}
	writeJSON(w, r, http.StatusOK, run)
}

// handleHealth reports liveness and current run activity.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":      "ok",
		"active_runs": s.limiter.Active(),
	})
}
