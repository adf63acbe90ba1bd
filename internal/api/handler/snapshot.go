package handler

import (
	"net/http"

	"github.com/rahulmehra-dev/convoy/internal/api/response"
)

// NewSnapshotHandler returns the handler for GET /api/v1/cluster. The
// snapshot is the monitoring view: live worker registrations and every
// submission record the coordinator holds.
func NewSnapshotHandler(svc Cluster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, svc.Snapshot())
	}
}
