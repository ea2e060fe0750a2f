package handler

import (
	"context"
	"net/http"

	"github.com/brandscope/brandscope/internal/api/response"
	"github.com/brandscope/brandscope/internal/batch"
)

// Sweeper runs one reconcile pass over stale jobs.
type Sweeper interface {
	Sweep(ctx context.Context) ([]batch.ReconcileOutcome, error)
}

// NewReconcileHandler returns the handler for POST /api/v1/reconcile,
// called by an external cron service (gated by the cron-secret middleware).
func NewReconcileHandler(sweeper Sweeper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		outcomes, err := sweeper.Sweep(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Reconcile sweep failed", nil)
			return
		}
		response.JSON(w, map[string]any{
			"reconciled": len(outcomes),
			"outcomes":   outcomes,
		})
	}
}
