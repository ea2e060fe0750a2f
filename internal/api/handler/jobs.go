package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/brandscope/brandscope/internal/api/middleware"
	"github.com/brandscope/brandscope/internal/api/response"
	"github.com/brandscope/brandscope/internal/batch"
	"github.com/brandscope/brandscope/internal/store"
	"github.com/brandscope/brandscope/pkg/models"
)

// JobCreator fans out a new batch job for an organization.
type JobCreator interface {
	CreateJob(ctx context.Context, orgID uuid.UUID, replace bool) (*batch.Result, error)
}

// JobRunner performs one budget-boxed executor invocation against a job.
type JobRunner interface {
	Run(ctx context.Context, jobID uuid.UUID) (*batch.Result, error)
}

// engineEnvelope is the flat wire contract of the job engine endpoints.
// Engine outcomes, including domain-level failures, are reported with HTTP
// 200 and an action string; the driver loop keys off action, not status
// codes.
type engineEnvelope struct {
	Success   bool             `json:"success"`
	Action    string           `json:"action"`
	Job       *models.BatchJob `json:"job,omitempty"`
	Processed int              `json:"processed,omitempty"`
	Remaining int              `json:"remaining,omitempty"`
	Error     string           `json:"error,omitempty"`
}

func engineOK(w http.ResponseWriter, res *batch.Result) {
	response.Raw(w, http.StatusOK, engineEnvelope{
		Success:   true,
		Action:    res.Action,
		Job:       res.Job,
		Processed: res.Processed,
		Remaining: res.Remaining,
	})
}

func engineErr(w http.ResponseWriter, msg string) {
	response.Raw(w, http.StatusOK, engineEnvelope{
		Success: false,
		Action:  batch.ActionError,
		Error:   msg,
	})
}

// NewCreateJobHandler returns the handler for POST /api/v1/jobs.
func NewCreateJobHandler(svc JobCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := mw.GetOrgID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing organization", nil)
			return
		}

		var req struct {
			Replace bool `json:"replace"`
		}
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
				return
			}
		}

		res, err := svc.CreateJob(r.Context(), orgID, req.Replace)
		if err != nil {
			switch {
			case errors.Is(err, batch.ErrNoActivePrompts),
				errors.Is(err, batch.ErrNoEntitledProviders):
				engineErr(w, err.Error())
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Organization not found", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create job", nil)
			}
			return
		}
		engineOK(w, res)
	}
}

// NewRunJobHandler returns the handler for POST /api/v1/jobs/{jobID}/run.
// Each call is one executor invocation; the caller re-invokes until the
// action goes terminal.
func NewRunJobHandler(st store.Store, runner JobRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := authorizedJob(w, r, st)
		if !ok {
			return
		}

		res, err := runner.Run(r.Context(), job.ID)
		if err != nil {
			engineErr(w, "executor invocation failed")
			return
		}
		engineOK(w, res)
	}
}

// NewGetJobHandler returns the handler for GET /api/v1/jobs/{jobID}.
// Reads go through the Redis snapshot when it is fresh; the store is the
// fallback and repopulates the snapshot.
func NewGetJobHandler(st store.Store, snapshots JobSnapshots) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := mw.GetOrgID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing organization", nil)
			return
		}
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job id", nil)
			return
		}

		if job, hit, err := snapshots.GetJobSnapshot(r.Context(), jobID); err == nil && hit && job.OrgID == orgID {
			engineOK(w, &batch.Result{Action: jobAction(job), Job: job})
			return
		}

		job, err := st.GetJob(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
			return
		}
		if job.OrgID != orgID {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}
		engineOK(w, &batch.Result{Action: jobAction(job), Job: job, Remaining: job.RemainingTasks()})
	}
}

// NewCancelJobHandler returns the handler for POST /api/v1/jobs/{jobID}/cancel.
// Cancellation is cooperative: a pending job with no runner is cancelled
// immediately, a processing one gets its flag set and is cancelled by the
// executor at its next iteration boundary.
func NewCancelJobHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := authorizedJob(w, r, st)
		if !ok {
			return
		}
		if job.IsTerminal() {
			engineOK(w, &batch.Result{Action: jobAction(job), Job: job})
			return
		}

		if err := st.RequestCancellation(r.Context(), job.ID); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to request cancellation", nil)
			return
		}

		if job.Status == models.JobStatusPending {
			if _, err := st.CancelPendingTasks(r.Context(), job.ID); err == nil {
				_, _ = st.TransitionJob(r.Context(), job.ID, models.JobStatusCancelled)
			}
		}

		fresh, err := st.GetJob(r.Context(), job.ID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
			return
		}
		engineOK(w, &batch.Result{Action: jobAction(fresh), Job: fresh})
	}
}

// NewJobDiagnosticsHandler returns the handler for
// GET /api/v1/jobs/{jobID}/diagnostics: per-status task counts, the task
// rows, and any error responses, for debugging a stuck or failed run.
func NewJobDiagnosticsHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := authorizedJob(w, r, st)
		if !ok {
			return
		}

		counts, err := st.TaskCounts(r.Context(), job.ID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to count tasks", nil)
			return
		}
		tasks, err := st.ListTasks(r.Context(), job.ID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list tasks", nil)
			return
		}
		records, err := st.ListResponses(r.Context(), job.ID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list responses", nil)
			return
		}

		failures := make([]*models.ResponseRecord, 0)
		for _, rec := range records {
			if rec.Status == models.ResponseStatusError {
				failures = append(failures, rec)
			}
		}

		response.JSON(w, map[string]any{
			"job":             job,
			"task_counts":     counts,
			"tasks":           tasks,
			"error_responses": failures,
		})
	}
}

// JobSnapshots is the read side of the job snapshot cache.
type JobSnapshots interface {
	GetJobSnapshot(ctx context.Context, jobID uuid.UUID) (*models.BatchJob, bool, error)
}

// authorizedJob parses {jobID}, loads the job, and scopes it to the
// authenticated organization. Jobs outside the org read as not found.
func authorizedJob(w http.ResponseWriter, r *http.Request, st store.Store) (*models.BatchJob, bool) {
	orgID, ok := mw.GetOrgID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing organization", nil)
		return nil, false
	}
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job id", nil)
		return nil, false
	}
	job, err := st.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return nil, false
		}
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
		return nil, false
	}
	if job.OrgID != orgID {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
		return nil, false
	}
	return job, true
}

func jobAction(job *models.BatchJob) string {
	switch job.Status {
	case models.JobStatusCompleted:
		return batch.ActionCompleted
	case models.JobStatusFailed:
		return batch.ActionFailed
	case models.JobStatusCancelled:
		return batch.ActionCancelled
	default:
		return batch.ActionInProgress
	}
}
