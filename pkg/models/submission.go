package models

import (
	"time"

	"github.com/google/uuid"
)

// Submission status values. Transitions are strictly monotonic:
// SUBMITTED -> SCHEDULED -> RUNNING -> {SUCCEEDED|FAILED}, with LOST
// reachable from RUNNING and CANCELLED reachable before RUNNING.
const (
	StatusSubmitted = "SUBMITTED"
	StatusScheduled = "SCHEDULED"
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusLost      = "LOST"
	StatusCancelled = "CANCELLED"
)

// Deploy modes: whether the driving logic runs on the submitting client
// or inside the cluster.
const (
	DeployModeClient  = "client"
	DeployModeCluster = "cluster"
)

// Well-known failure causes reported by workers or set by the coordinator.
const (
	CauseArtifactNotFound  = "artifact-not-found"
	CauseEntryPoint        = "entry-point-not-resolvable"
	CauseRuntimeFailure    = "runtime-failure"
	CauseResourceExhausted = "resource-exhaustion"
	CauseCancelled         = "cancelled"
	CauseSchedulingTimeout = "scheduling-timeout"
	CauseWorkerLost        = "worker-lost"
)

// Submission tracks one job submitted to the cluster. The coordinator is
// the only writer; terminal records are immutable.
type Submission struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	ArtifactPath string     `db:"artifact_path" json:"artifact_path"`
	EntryPoint   string     `db:"entry_point"   json:"entry_point"`
	Args         []string   `db:"args"          json:"args,omitempty"`
	DeployMode   string     `db:"deploy_mode"   json:"deploy_mode"`
	Supervise    bool       `db:"supervise"     json:"supervise"`
	Status       string     `db:"status"        json:"status"`
	WorkerID     string     `db:"worker_id"     json:"worker_id,omitempty"`
	FailureCause *string    `db:"failure_cause" json:"failure_cause,omitempty"`
	OutputPath   *string    `db:"output_path"   json:"output_path,omitempty"`
	ScheduledAt  *time.Time `db:"scheduled_at"  json:"scheduled_at,omitempty"`
	StartedAt    *time.Time `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}

// Terminal reports whether the status admits no further transitions.
func Terminal(status string) bool {
	switch status {
	case StatusSucceeded, StatusFailed, StatusLost, StatusCancelled:
		return true
	}
	return false
}
