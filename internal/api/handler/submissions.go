package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rahulmehra-dev/convoy/internal/api/response"
	"github.com/rahulmehra-dev/convoy/internal/cluster"
	"github.com/rahulmehra-dev/convoy/internal/store"
	"github.com/rahulmehra-dev/convoy/pkg/models"
)

// Cluster is the coordinator surface the HTTP handlers depend on.
type Cluster interface {
	Submit(ctx context.Context, sub *models.Submission) (uuid.UUID, error)
	Status(id uuid.UUID) (*models.Submission, error)
	List() []*models.Submission
	Cancel(ctx context.Context, id uuid.UUID) (*models.Submission, error)

	RegisterWorker(identity string, capacity int) *models.Worker
	HeartbeatWorker(identity string) ([]uuid.UUID, error)
	DeregisterWorker(ctx context.Context, identity string)
	PollTask(identity string) (*cluster.Task, error)
	AckTask(ctx context.Context, identity string, id uuid.UUID) error
	ReportResult(ctx context.Context, identity string, id uuid.UUID, success bool, cause, outputPath string) error

	Snapshot() *cluster.Snapshot
}

// StatusReader is the fast path consulted when the in-memory table has no
// record, which happens after a coordinator restart.
type StatusReader interface {
	GetSubmissionStatus(ctx context.Context, id uuid.UUID) (string, bool, error)
}

// History serves the durable submission records the coordinator writes
// through on every transition. Unlike the in-memory table and the status
// cache it survives both a restart and cache expiry.
type History interface {
	GetSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error)
	ListSubmissions(ctx context.Context, filter store.SubmissionFilter) ([]*models.Submission, int, error)
}

// NewSubmitHandler returns the handler for POST /api/v1/submissions.
func NewSubmitHandler(svc Cluster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ArtifactPath string   `json:"artifact_path"`
			EntryPoint   string   `json:"entry_point"`
			Args         []string `json:"args"`
			DeployMode   string   `json:"deploy_mode"`
			Supervise    bool     `json:"supervise"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.ArtifactPath == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "artifact_path is required", nil)
			return
		}
		if req.EntryPoint == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "entry_point is required", nil)
			return
		}

		mode := req.DeployMode
		if mode == "" {
			mode = models.DeployModeCluster
		}
		if mode != models.DeployModeClient && mode != models.DeployModeCluster {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"deploy_mode must be client or cluster", nil)
			return
		}

		id, err := svc.Submit(r.Context(), &models.Submission{
			ArtifactPath: req.ArtifactPath,
			EntryPoint:   req.EntryPoint,
			Args:         req.Args,
			DeployMode:   mode,
			Supervise:    req.Supervise,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to accept submission", nil)
			return
		}

		response.Created(w, map[string]string{
			"submission_id": id.String(),
			"status":        models.StatusSubmitted,
		})
	}
}

// NewStatusHandler returns the handler for GET /api/v1/submissions/{id}.
// Lookup order: in-memory table, status cache, durable history. The later
// sources answer for submissions the current process never saw; both may
// be nil.
func NewStatusHandler(svc Cluster, statusCache StatusReader, history History) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "submissionID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid submission id", nil)
			return
		}

		sub, err := svc.Status(id)
		if err == nil {
			response.JSON(w, sub)
			return
		}
		if !errors.Is(err, cluster.ErrNotFound) {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to read submission", nil)
			return
		}

		if statusCache != nil {
			status, found, cerr := statusCache.GetSubmissionStatus(r.Context(), id)
			if cerr == nil && found {
				response.JSON(w, map[string]string{
					"submission_id": id.String(),
					"status":        status,
				})
				return
			}
		}

		if history != nil {
			sub, herr := history.GetSubmission(r.Context(), id)
			if herr == nil {
				response.JSON(w, sub)
				return
			}
			if !errors.Is(herr, store.ErrNotFound) {
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"Failed to read submission", nil)
				return
			}
		}
		response.Error(w, http.StatusNotFound, "SUBMISSION_NOT_FOUND", "Unknown submission id", nil)
	}
}

// NewListSubmissionsHandler returns the handler for GET /api/v1/submissions.
// The durable history is the complete record set, including submissions
// accepted before the last restart; without one the live table answers.
// Supports ?status=, ?page= and ?limit= filters.
func NewListSubmissionsHandler(svc Cluster, history History) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if history == nil {
			subs := svc.List()
			response.JSON(w, map[string]any{"submissions": subs, "total": len(subs)})
			return
		}

		filter := store.SubmissionFilter{Status: r.URL.Query().Get("status")}
		if v := r.URL.Query().Get("page"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				filter.Page = n
			}
		}
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				filter.Limit = n
			}
		}

		subs, total, err := history.ListSubmissions(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list submissions", nil)
			return
		}
		response.JSON(w, map[string]any{"submissions": subs, "total": total})
	}
}

// NewCancelHandler returns the handler for POST /api/v1/submissions/{id}/cancel.
func NewCancelHandler(svc Cluster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "submissionID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid submission id", nil)
			return
		}

		sub, err := svc.Cancel(r.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, cluster.ErrNotFound):
				response.Error(w, http.StatusNotFound, "SUBMISSION_NOT_FOUND", "Unknown submission id", nil)
			case errors.Is(err, cluster.ErrNotCancellable):
				response.Error(w, http.StatusConflict, "NOT_CANCELLABLE",
					"Submission already reached a terminal status", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"Failed to cancel submission", nil)
			}
			return
		}

		response.Accepted(w, sub)
	}
}
