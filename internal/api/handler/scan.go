package handler

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/brandscope/brandscope/internal/api/response"
	"github.com/brandscope/brandscope/internal/batch"
	"github.com/brandscope/brandscope/internal/store"
)

// scanOutcome reports the fan-out result for one organization.
type scanOutcome struct {
	OrgID  uuid.UUID  `json:"org_id"`
	Action string     `json:"action"`
	JobID  *uuid.UUID `json:"job_id,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// NewScanHandler returns the handler for POST /api/v1/scan, the external-cron
// counterpart of the scheduler's daily scan. It only fans out: created jobs
// are driven by repeated /run calls or picked up by the reconciler, so the
// request stays bounded regardless of how much work it creates.
func NewScanHandler(st store.Store, creator JobCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgs, err := st.ListOrganizations(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to list organizations", nil)
			return
		}

		var created int
		outcomes := make([]scanOutcome, 0, len(orgs))
		for _, org := range orgs {
			out := scanOutcome{OrgID: org.ID}
			res, err := creator.CreateJob(r.Context(), org.ID, false)
			switch {
			case errors.Is(err, batch.ErrNoActivePrompts),
				errors.Is(err, batch.ErrNoEntitledProviders):
				out.Action = batch.ActionError
				out.Error = err.Error()
			case err != nil:
				out.Action = batch.ActionError
				out.Error = "fan-out failed"
			default:
				out.Action = res.Action
				if res.Job != nil {
					id := res.Job.ID
					out.JobID = &id
				}
				if res.Action == batch.ActionCreated {
					created++
				}
			}
			outcomes = append(outcomes, out)
		}

		response.JSON(w, map[string]any{
			"organizations": len(orgs),
			"jobs_created":  created,
			"outcomes":      outcomes,
		})
	}
}
