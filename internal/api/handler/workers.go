package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rahulmehra-dev/convoy/internal/api/response"
	"github.com/rahulmehra-dev/convoy/internal/cluster"
)

// NewRegisterWorkerHandler returns the handler for POST /api/v1/workers.
// Registration is idempotent: re-registering refreshes capacity and
// liveness without losing the original registration order.
func NewRegisterWorkerHandler(svc Cluster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Identity string `json:"identity"`
			Capacity int    `json:"capacity"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Identity == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "identity is required", nil)
			return
		}
		if req.Capacity <= 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "capacity must be positive", nil)
			return
		}

		response.Created(w, svc.RegisterWorker(req.Identity, req.Capacity))
	}
}

// NewHeartbeatHandler returns the handler for POST /api/v1/workers/{identity}/heartbeat.
// The response carries the submissions the worker should abort.
func NewHeartbeatHandler(svc Cluster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := chi.URLParam(r, "identity")

		cancels, err := svc.HeartbeatWorker(identity)
		if err != nil {
			if errors.Is(err, cluster.ErrUnknownWorker) {
				response.Error(w, http.StatusNotFound, "WORKER_NOT_REGISTERED",
					"Worker is not registered, register again", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to record heartbeat", nil)
			return
		}

		if cancels == nil {
			cancels = []uuid.UUID{}
		}
		response.JSON(w, map[string]any{"cancel": cancels})
	}
}

// NewDeregisterWorkerHandler returns the handler for DELETE /api/v1/workers/{identity}.
func NewDeregisterWorkerHandler(svc Cluster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.DeregisterWorker(r.Context(), chi.URLParam(r, "identity"))
		response.NoContent(w)
	}
}

// NewPollTaskHandler returns the handler for GET /api/v1/workers/{identity}/task.
// The body's data field is null when no task is assigned.
func NewPollTaskHandler(svc Cluster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task, err := svc.PollTask(chi.URLParam(r, "identity"))
		if err != nil {
			if errors.Is(err, cluster.ErrUnknownWorker) {
				response.Error(w, http.StatusNotFound, "WORKER_NOT_REGISTERED",
					"Worker is not registered, register again", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to poll for work", nil)
			return
		}
		response.JSON(w, task)
	}
}

// NewAckTaskHandler returns the handler for
// POST /api/v1/workers/{identity}/task/{submissionID}/ack.
func NewAckTaskHandler(svc Cluster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := chi.URLParam(r, "identity")
		id, err := uuid.Parse(chi.URLParam(r, "submissionID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid submission id", nil)
			return
		}

		if err := svc.AckTask(r.Context(), identity, id); err != nil {
			writeTaskError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// NewReportResultHandler returns the handler for
// POST /api/v1/workers/{identity}/task/{submissionID}/result.
func NewReportResultHandler(svc Cluster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := chi.URLParam(r, "identity")
		id, err := uuid.Parse(chi.URLParam(r, "submissionID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid submission id", nil)
			return
		}

		var req struct {
			Success      bool   `json:"success"`
			FailureCause string `json:"failure_cause"`
			OutputPath   string `json:"output_path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if err := svc.ReportResult(r.Context(), identity, id, req.Success, req.FailureCause, req.OutputPath); err != nil {
			writeTaskError(w, err)
			return
		}
		response.NoContent(w)
	}
}

func writeTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cluster.ErrNotFound):
		response.Error(w, http.StatusNotFound, "SUBMISSION_NOT_FOUND", "Unknown submission id", nil)
	case errors.Is(err, cluster.ErrInvalidTransition):
		response.Error(w, http.StatusConflict, "INVALID_TRANSITION",
			"Submission is not in a state that accepts this report", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"Failed to update submission", nil)
	}
}
