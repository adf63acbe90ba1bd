package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/rahulmehra-dev/convoy/internal/api/middleware"
	"github.com/rahulmehra-dev/convoy/internal/api/response"
	"github.com/rahulmehra-dev/convoy/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	SubmitHandler          http.HandlerFunc
	StatusHandler          http.HandlerFunc
	ListSubmissionsHandler http.HandlerFunc
	CancelHandler          http.HandlerFunc

	RegisterWorkerHandler   http.HandlerFunc
	HeartbeatHandler        http.HandlerFunc
	DeregisterWorkerHandler http.HandlerFunc
	PollTaskHandler         http.HandlerFunc
	AckTaskHandler          http.HandlerFunc
	ReportResultHandler     http.HandlerFunc

	SnapshotHandler http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		// Submission protocol
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeSubmit))

			r.Post("/api/v1/submissions", orNotImplemented(deps.SubmitHandler))
			r.Post("/api/v1/submissions/{submissionID}/cancel", orNotImplemented(deps.CancelHandler))
		})

		// Monitoring surface
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeRead))

			r.Get("/api/v1/submissions", orNotImplemented(deps.ListSubmissionsHandler))
			r.Get("/api/v1/submissions/{submissionID}", orNotImplemented(deps.StatusHandler))
			r.Get("/api/v1/cluster", orNotImplemented(deps.SnapshotHandler))
		})

		// Worker protocol
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeWorker))

			r.Post("/api/v1/workers", orNotImplemented(deps.RegisterWorkerHandler))
			r.Post("/api/v1/workers/{identity}/heartbeat", orNotImplemented(deps.HeartbeatHandler))
			r.Delete("/api/v1/workers/{identity}", orNotImplemented(deps.DeregisterWorkerHandler))
			r.Get("/api/v1/workers/{identity}/task", orNotImplemented(deps.PollTaskHandler))
			r.Post("/api/v1/workers/{identity}/task/{submissionID}/ack", orNotImplemented(deps.AckTaskHandler))
			r.Post("/api/v1/workers/{identity}/task/{submissionID}/result", orNotImplemented(deps.ReportResultHandler))
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
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
