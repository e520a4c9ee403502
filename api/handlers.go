/*
handlers.go - HTTP API handlers for key-worker statistics and batch jobs

PURPOSE:
  Exposes the stats engine and the batch scheduler over REST. Handles HTTP
  request/response and JSON, and delegates everything else.

ENDPOINTS:
  Stats:
    GET  /api/key-worker-stats/{staffId}/prison/{prisonId}   One key worker
    GET  /api/key-worker-stats?prisonId=A&prisonId=B         Prisons + combined
         Both accept fromDate / toDate (YYYY-MM-DD, optional).
         No prisonId means every migrated prison.

  Batch:
    POST /api/batch/deallocate        Run the deallocation sweep now
    POST /api/batch/update-status     Run the return-from-leave update now
    GET  /api/batch/runs?job=&limit=  Run history, newest first
    GET  /api/batch/schedule          Registered jobs and next run times

  Health:
    GET  /health                      UP, with the Prison API status as detail

ERROR HANDLING:
  Errors are returned as JSON {error, details}:
  - 400: Bad dates, bad ids, missing prison
  - 404: Unknown job
  - 409: Job already running
  - 500: Everything else

A manual trigger answers 200 with the run record even when the job failed;
the failure is in the record's status and error.

SEE ALSO:
  - dto.go: Response data structures
  - scheduler.go: Job execution and run history
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/keyworker-engine/generic"
	"github.com/warp/keyworker-engine/keyworker"
)

// defaultRunLimit caps GET /api/batch/runs when no limit is given.
const defaultRunLimit = 50

// healthTimeout bounds the upstream probe behind GET /health.
const healthTimeout = 5 * time.Second

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// HealthChecker probes an upstream dependency and returns the HTTP status it
// answered with.
type HealthChecker interface {
	Health(ctx context.Context) (int, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Stats     *keyworker.StatsEngine
	Scheduler *JobScheduler
	Runs      RunStore
	Upstream  HealthChecker // optional
}

// NewHandler creates a handler over the stats engine and scheduler.
func NewHandler(stats *keyworker.StatsEngine, scheduler *JobScheduler, runs RunStore, upstream HealthChecker) *Handler {
	return &Handler{Stats: stats, Scheduler: scheduler, Runs: runs, Upstream: upstream}
}

// =============================================================================
// STATS HANDLERS
// =============================================================================

// GetStaffStats returns one key worker's compliance at one prison.
// GET /api/key-worker-stats/{staffId}/prison/{prisonId}
func (h *Handler) GetStaffStats(w http.ResponseWriter, r *http.Request) {
	staffID, err := strconv.ParseInt(chi.URLParam(r, "staffId"), 10, 64)
	if err != nil || staffID <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid staff id", err)
		return
	}
	from, to, err := parseDateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	stats, err := h.Stats.StaffStats(r.Context(), staffID, chi.URLParam(r, "prisonId"), from, to)
	if err != nil {
		writeDomainError(w, "Failed to compute staff stats", err)
		return
	}
	writeJSON(w, http.StatusOK, NewStaffStatsDTO(stats))
}

// GetPrisonStats returns per-prison stats and their combination.
// GET /api/key-worker-stats?prisonId=...
func (h *Handler) GetPrisonStats(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseDateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	stats, err := h.Stats.PrisonStats(r.Context(), r.URL.Query()["prisonId"], from, to)
	if err != nil {
		writeDomainError(w, "Failed to compute prison stats", err)
		return
	}
	writeJSON(w, http.StatusOK, NewPrisonStatsResponse(stats))
}

// =============================================================================
// BATCH HANDLERS
// =============================================================================

// TriggerDeallocation runs the deallocation sweep now.
// POST /api/batch/deallocate
func (h *Handler) TriggerDeallocation(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, JobDeallocate)
}

// TriggerStatusUpdate runs the return-from-leave update now.
// POST /api/batch/update-status
func (h *Handler) TriggerStatusUpdate(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, JobUpdateStatus)
}

func (h *Handler) trigger(w http.ResponseWriter, r *http.Request, job string) {
	run, err := h.Scheduler.RunNow(r.Context(), job, TriggerManual)
	if err != nil {
		writeDomainError(w, "Failed to run "+job, err)
		return
	}
	writeJSON(w, http.StatusOK, NewBatchRunDTO(run))
}

// ListBatchRuns returns recorded job executions, newest first.
// GET /api/batch/runs?job=deallocate&limit=20
func (h *Handler) ListBatchRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Runs.ListBatchRuns(r.Context(), r.URL.Query().Get("job"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}

	dtos := make([]BatchRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = NewBatchRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSchedule lists registered jobs and their next scheduled run.
// GET /api/batch/schedule
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ScheduleDTO{
		Jobs:    h.Scheduler.Jobs(),
		NextRun: h.Scheduler.NextRuns(),
	})
}

// Health answers liveness probes with the Prison API status as a detail.
// A failing upstream does not take this service down.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthDTO{Status: "UP"}
	if h.Upstream != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		code, err := h.Upstream.Health(ctx)
		resp.PrisonAPI = &UpstreamHealthDTO{HTTPStatus: code}
		if err != nil {
			resp.PrisonAPI.Error = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func parseDateRange(r *http.Request) (from, to *generic.TimePoint, err error) {
	q := r.URL.Query()
	if from, err = generic.ParseOptionalDate(q.Get("fromDate")); err != nil {
		return nil, nil, err
	}
	if to, err = generic.ParseOptionalDate(q.Get("toDate")); err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps error categories onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, ErrJobRunning):
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
