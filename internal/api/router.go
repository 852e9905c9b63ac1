package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/callcoach/internal/api/middleware"
	"github.com/kiranshivaraju/callcoach/internal/api/response"
)

// AdminScope is the API key scope required for the maintenance endpoints.
const AdminScope = "admin"

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Logger    *slog.Logger
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	EnqueueAnalysis   http.HandlerFunc
	GetAnalysisStatus http.HandlerFunc

	RetryJobs   http.HandlerFunc
	CleanupJobs http.HandlerFunc
	ReapJobs    http.HandlerFunc
	ListJobs    http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(mw.Logger(logger))
	r.Use(mw.Recovery(logger))

	// Public
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/sessions/{sessionID}/analysis", orNotImplemented(deps.EnqueueAnalysis))
		r.Get("/api/v1/sessions/{sessionID}/analysis", orNotImplemented(deps.GetAnalysisStatus))

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(AdminScope))

			r.Post("/api/v1/admin/analysis/retry", orNotImplemented(deps.RetryJobs))
			r.Post("/api/v1/admin/analysis/cleanup", orNotImplemented(deps.CleanupJobs))
			r.Post("/api/v1/admin/analysis/reap", orNotImplemented(deps.ReapJobs))
			r.Get("/api/v1/admin/analysis/jobs", orNotImplemented(deps.ListJobs))
		})
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
