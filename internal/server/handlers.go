package server

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/jonathan/ats-sync/internal/db"
	"github.com/jonathan/ats-sync/internal/jobs"
	"github.com/jonathan/ats-sync/internal/logging"
	"github.com/jonathan/ats-sync/internal/syncer"
)

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
	Uptime   string `json:"uptime"`
}

// SyncStatesResponse is returned by GET /sync-states.
type SyncStatesResponse struct {
	States []db.SyncState `json:"states"`
}

// TriggerResponse is returned by POST /sync/{job}.
type TriggerResponse struct {
	Job    string `json:"job"`
	Status string `json:"status"`
}

// JobStatusResponse is returned by GET /sync/{job}.
type JobStatusResponse struct {
	Job      string           `json:"job"`
	RunID    string           `json:"run_id,omitempty"`
	Ran      bool             `json:"ran"`
	Attempts int              `json:"attempts"`
	Duration string           `json:"duration,omitempty"`
	Results  []ResultResponse `json:"results,omitempty"`
	Batch    *BatchResponse   `json:"batch,omitempty"`
}

// ResultResponse summarizes one resource pass.
type ResultResponse struct {
	Resource    string     `json:"resource"`
	Full        bool       `json:"full"`
	Path        string     `json:"path,omitempty"`
	Pages       int        `json:"pages"`
	Processed   int        `json:"processed"`
	Skipped     int        `json:"skipped"`
	Failed      int        `json:"failed"`
	Pruned      int        `json:"pruned"`
	Stopped     bool       `json:"stopped_early"`
	Unavailable bool       `json:"unavailable"`
	Watermark   *time.Time `json:"watermark,omitempty"`
}

// BatchResponse summarizes an answer enrichment pass.
type BatchResponse struct {
	Checked     int `json:"checked"`
	FullySynced int `json:"fully_synced"`
	Answers     int `json:"answers"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
}

// handleHealth reports liveness and, when configured, database reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Uptime: time.Since(s.startedAt).Round(time.Second).String()}
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("health check: database unreachable")
			resp.Status = "degraded"
			resp.Database = "unreachable"
			s.jsonResponse(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Database = "ok"
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleSyncStates(w http.ResponseWriter, r *http.Request) {
	states, err := s.states.ListSyncStates(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to list sync states")
		logging.Ctx(r.Context()).Error().Err(err).Msg("failed to list sync states")
		return
	}
	if states == nil {
		states = []db.SyncState{}
	}
	s.jsonResponse(w, http.StatusOK, SyncStatesResponse{States: states})
}

// handleTrigger queues a job run. The run happens on the scheduler, not in
// the request.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	job := chi.URLParam(r, "job")
	if err := s.triggers.Trigger(job); err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	logging.Ctx(r.Context()).Info().Str("job", job).Msg("job trigger queued")
	s.jsonResponse(w, http.StatusAccepted, TriggerResponse{Job: job, Status: "queued"})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job := chi.URLParam(r, "job")
	if !slices.Contains(jobs.Jobs, job) {
		s.errorResponse(w, http.StatusNotFound, "unknown job: "+job)
		return
	}
	rep := s.triggers.LastRun(job)
	if rep == nil {
		s.jsonResponse(w, http.StatusOK, JobStatusResponse{Job: job})
		return
	}
	s.jsonResponse(w, http.StatusOK, newJobStatus(rep))
}

func newJobStatus(rep *jobs.Report) JobStatusResponse {
	out := JobStatusResponse{
		Job:      rep.Job,
		RunID:    rep.RunID,
		Ran:      rep.Ran,
		Attempts: rep.Attempts,
		Duration: rep.Duration.String(),
	}
	for _, res := range rep.Results {
		out.Results = append(out.Results, newResult(res))
	}
	if b := rep.Batch; b != nil {
		out.Batch = &BatchResponse{
			Checked:     b.Checked,
			FullySynced: b.FullySynced,
			Answers:     b.Answers,
			Skipped:     b.Skipped,
			Failed:      b.Failed,
		}
	}
	return out
}

func newResult(res *syncer.Result) ResultResponse {
	return ResultResponse{
		Resource:    res.Resource,
		Full:        res.Full,
		Path:        res.Path,
		Pages:       res.Pages,
		Processed:   res.Processed,
		Skipped:     res.Skipped,
		Failed:      res.Failed,
		Pruned:      res.Pruned,
		Stopped:     res.Stopped,
		Unavailable: res.Unavailable,
		Watermark:   res.Watermark,
	}
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error().Err(err).Msg("error encoding JSON response")
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}
