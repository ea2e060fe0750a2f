package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/brandscope/brandscope/internal/api/middleware"
	"github.com/brandscope/brandscope/internal/api/response"
	"github.com/brandscope/brandscope/internal/metrics"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth       *mw.Auth
	RateLimit  *mw.RateLimit
	CronSecret string

	HealthHandler      http.HandlerFunc
	CreateJobHandler   http.HandlerFunc
	RunJobHandler      http.HandlerFunc
	GetJobHandler      http.HandlerFunc
	CancelJobHandler   http.HandlerFunc
	DiagnosticsHandler http.HandlerFunc
	ReconcileHandler   http.HandlerFunc
	ScanHandler        http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check and Prometheus scrape target
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Job engine routes, scoped to the authenticated organization
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/jobs", orNotImplemented(deps.CreateJobHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Post("/api/v1/jobs/{jobID}/run", orNotImplemented(deps.RunJobHandler))
		r.Post("/api/v1/jobs/{jobID}/cancel", orNotImplemented(deps.CancelJobHandler))
		r.Get("/api/v1/jobs/{jobID}/diagnostics", orNotImplemented(deps.DiagnosticsHandler))
	})

	// Cron-triggered routes, gated by shared secret instead of user auth
	r.Group(func(r chi.Router) {
		r.Use(mw.CronSecret(deps.CronSecret))

		r.Post("/api/v1/reconcile", orNotImplemented(deps.ReconcileHandler))
		r.Post("/api/v1/scan", orNotImplemented(deps.ScanHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
