// Package cluster implements the coordinator core: the worker registry,
// the submission table and its state machine, and the scheduling loop
// that binds the two.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rahulmehra-dev/convoy/internal/config"
	"github.com/rahulmehra-dev/convoy/pkg/models"
)

// History is the durable write-through for submission records. Live
// scheduling state stays in memory; history failures are logged, never
// allowed to fail a submission.
type History interface {
	CreateSubmission(ctx context.Context, sub *models.Submission) error
	UpdateSubmission(ctx context.Context, sub *models.Submission) error
}

// StatusCache is the fast path consulted by the status endpoint.
type StatusCache interface {
	SetSubmissionStatus(ctx context.Context, id uuid.UUID, status string, ttl time.Duration) error
}

const statusCacheTTL = time.Hour

// Task is the unit of work handed to a worker: the artifact reference and
// entry point of a scheduled submission.
type Task struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	ArtifactPath string    `json:"artifact_path"`
	EntryPoint   string    `json:"entry_point"`
	Args         []string  `json:"args,omitempty"`
	DeployMode   string    `json:"deploy_mode"`
}

// Snapshot is the read-only monitoring view of the cluster.
type Snapshot struct {
	Workers     []*models.Worker     `json:"workers"`
	Submissions []*models.Submission `json:"submissions"`
}

// Coordinator owns all cluster state and is the only component allowed to
// mutate it. All access goes through its methods, never shared memory.
type Coordinator struct {
	logger  *slog.Logger
	cfg     config.CoordinatorConfig
	reg     *Registry
	table   *Table
	history History
	cache   StatusCache
}

// NewCoordinator creates a coordinator. history and cache may be nil.
func NewCoordinator(logger *slog.Logger, cfg config.CoordinatorConfig, history History, cache StatusCache) *Coordinator {
	return &Coordinator{
		logger:  logger,
		cfg:     cfg,
		reg:     NewRegistry(),
		table:   NewTable(),
		history: history,
		cache:   cache,
	}
}

// Submit records a well-formed submission and returns its id. Scheduling
// happens asynchronously on the next cycle.
func (c *Coordinator) Submit(ctx context.Context, sub *models.Submission) (uuid.UUID, error) {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	rec := c.table.Add(sub)

	if c.history != nil {
		if err := c.history.CreateSubmission(ctx, rec); err != nil {
			c.logger.Warn("submission history write failed", "submission_id", rec.ID, "error", err)
		}
	}
	c.cacheStatus(ctx, rec)

	c.logger.Info("submission accepted",
		"submission_id", rec.ID,
		"entry_point", rec.EntryPoint,
		"deploy_mode", rec.DeployMode,
	)
	return rec.ID, nil
}

// Status returns the current submission record.
func (c *Coordinator) Status(id uuid.UUID) (*models.Submission, error) {
	return c.table.Get(id)
}

// List returns all submission records in arrival order.
func (c *Coordinator) List() []*models.Submission {
	return c.table.List()
}

// Cancel cancels a submission. Before RUNNING the record moves straight to
// CANCELLED and the assigned worker never receives the artifact reference.
// A RUNNING submission is flagged; the abort is delivered on the worker's
// next heartbeat and resolved by its terminal report or the ack timeout.
func (c *Coordinator) Cancel(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	sub, err := c.table.Get(id)
	if err != nil {
		return nil, err
	}

	switch sub.Status {
	case models.StatusSubmitted, models.StatusScheduled:
		if sub.WorkerID != "" {
			c.reg.Release(sub.WorkerID)
		}
		rec, err := c.table.Transition(id, models.StatusCancelled, WithFailureCause(models.CauseCancelled))
		if err != nil {
			return nil, err
		}
		c.persist(ctx, rec)
		c.logger.Info("submission cancelled", "submission_id", id, "was", sub.Status)
		return rec, nil

	case models.StatusRunning:
		c.table.RequestCancel(id, time.Now().UTC())
		c.logger.Info("cancel requested for running submission",
			"submission_id", id, "worker", sub.WorkerID)
		return sub, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrNotCancellable, sub.Status)
	}
}

// RegisterWorker adds or refreshes a worker registration.
func (c *Coordinator) RegisterWorker(identity string, capacity int) *models.Worker {
	w := c.reg.Register(identity, capacity)
	c.logger.Info("worker registered", "worker", identity, "capacity", capacity, "seq", w.Seq)
	return w
}

// HeartbeatWorker refreshes liveness and returns the submissions the
// worker should abort.
func (c *Coordinator) HeartbeatWorker(identity string) ([]uuid.UUID, error) {
	if err := c.reg.Heartbeat(identity); err != nil {
		return nil, err
	}
	return c.table.PendingCancels(identity), nil
}

// DeregisterWorker removes a worker. Its running work is immediately
// treated as lost rather than waiting for the liveness sweep.
func (c *Coordinator) DeregisterWorker(ctx context.Context, identity string) {
	c.reg.Deregister(identity)
	c.workerGone(ctx, identity)
	c.logger.Info("worker deregistered", "worker", identity)
}

// PollTask returns the next task assigned to the worker, or nil when there
// is none. Polling also counts as a liveness signal.
func (c *Coordinator) PollTask(identity string) (*Task, error) {
	if err := c.reg.Heartbeat(identity); err != nil {
		return nil, err
	}

	for _, sub := range c.table.InStatus(models.StatusScheduled) {
		if sub.WorkerID != identity {
			continue
		}
		return &Task{
			SubmissionID: sub.ID,
			ArtifactPath: sub.ArtifactPath,
			EntryPoint:   sub.EntryPoint,
			Args:         sub.Args,
			DeployMode:   sub.DeployMode,
		}, nil
	}
	return nil, nil
}

// AckTask acknowledges receipt of the artifact reference and moves the
// submission to RUNNING.
func (c *Coordinator) AckTask(ctx context.Context, identity string, id uuid.UUID) error {
	sub, err := c.table.Get(id)
	if err != nil {
		return err
	}
	if sub.WorkerID != identity {
		return fmt.Errorf("%w: %s is assigned to %q", ErrInvalidTransition, id, sub.WorkerID)
	}

	rec, err := c.table.Transition(id, models.StatusRunning)
	if err != nil {
		return err
	}
	c.persist(ctx, rec)
	c.logger.Info("submission running", "submission_id", id, "worker", identity)
	return nil
}

// ReportResult records a worker's terminal status for a submission and
// frees the execution slot.
func (c *Coordinator) ReportResult(ctx context.Context, identity string, id uuid.UUID, success bool, cause, outputPath string) error {
	sub, err := c.table.Get(id)
	if err != nil {
		return err
	}
	if sub.WorkerID != identity {
		return fmt.Errorf("%w: %s is assigned to %q", ErrInvalidTransition, id, sub.WorkerID)
	}

	var rec *models.Submission
	if success {
		opts := []TransitionOption{}
		if outputPath != "" {
			opts = append(opts, WithOutputPath(outputPath))
		}
		rec, err = c.table.Transition(id, models.StatusSucceeded, opts...)
	} else {
		if cause == "" {
			cause = models.CauseRuntimeFailure
		}
		rec, err = c.table.Transition(id, models.StatusFailed, WithFailureCause(cause))
	}
	if err != nil {
		return err
	}

	c.reg.Release(identity)
	c.persist(ctx, rec)
	c.logger.Info("submission finished",
		"submission_id", id, "worker", identity, "status", rec.Status)
	return nil
}

// Snapshot returns the monitoring view: live registrations and all
// submission records.
func (c *Coordinator) Snapshot() *Snapshot {
	return &Snapshot{
		Workers:     c.reg.List(),
		Submissions: c.table.List(),
	}
}

// Run drives the scheduling loop until ctx is cancelled. Every cycle:
// sweep lost workers, expire overdue cancels, then assign pending work.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("scheduler started",
		"interval", c.cfg.SchedulingInterval,
		"liveness_timeout", c.cfg.LivenessTimeout,
	)
	ticker := time.NewTicker(c.cfg.SchedulingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			c.Cycle(ctx)
		}
	}
}

// Cycle runs one scheduling pass. Exported so tests can step the
// coordinator deterministically without the ticker.
func (c *Coordinator) Cycle(ctx context.Context) {
	now := time.Now().UTC()
	c.sweep(ctx, now)
	c.expireCancels(ctx, now)
	c.schedule(ctx, now)
}

func (c *Coordinator) sweep(ctx context.Context, now time.Time) {
	for _, identity := range c.reg.Sweep(c.cfg.LivenessTimeout, now) {
		c.logger.Warn("worker lost", "worker", identity, "timeout", c.cfg.LivenessTimeout)
		c.workerGone(ctx, identity)
	}
}

// workerGone moves the worker's RUNNING submissions to LOST and releases
// SCHEDULED-but-unacked ones for reassignment. SCHEDULED work keeps its
// status: transitions never move backward.
func (c *Coordinator) workerGone(ctx context.Context, identity string) {
	for _, sub := range c.table.InStatus(models.StatusRunning) {
		if sub.WorkerID != identity {
			continue
		}
		rec, err := c.table.Transition(sub.ID, models.StatusLost, WithFailureCause(models.CauseWorkerLost))
		if err != nil {
			c.logger.Error("lost transition failed", "submission_id", sub.ID, "error", err)
			continue
		}
		c.persist(ctx, rec)
		c.logger.Warn("submission lost", "submission_id", sub.ID, "worker", identity)
	}

	for _, sub := range c.table.InStatus(models.StatusScheduled) {
		if sub.WorkerID != identity {
			continue
		}
		if err := c.table.Reassign(sub.ID, ""); err != nil {
			c.logger.Error("unassign failed", "submission_id", sub.ID, "error", err)
		}
	}
}

// expireCancels moves RUNNING submissions whose abort was never
// acknowledged within the configured timeout to LOST.
func (c *Coordinator) expireCancels(ctx context.Context, now time.Time) {
	for _, sub := range c.table.InStatus(models.StatusRunning) {
		at, ok := c.table.CancelRequested(sub.ID)
		if !ok || now.Sub(at) <= c.cfg.CancelAckTimeout {
			continue
		}
		rec, err := c.table.Transition(sub.ID, models.StatusLost, WithFailureCause(models.CauseCancelled))
		if err != nil {
			c.logger.Error("cancel expiry failed", "submission_id", sub.ID, "error", err)
			continue
		}
		c.reg.Release(sub.WorkerID)
		c.persist(ctx, rec)
		c.logger.Warn("cancel unacknowledged, submission lost", "submission_id", sub.ID)
	}
}

func (c *Coordinator) schedule(ctx context.Context, now time.Time) {
	// Reassign SCHEDULED work orphaned by a lost worker first so it keeps
	// its place ahead of newly submitted work.
	for _, sub := range c.table.InStatus(models.StatusScheduled) {
		if sub.WorkerID != "" {
			continue
		}
		w, ok := c.reg.PickWorker()
		if !ok {
			break
		}
		if err := c.table.Reassign(sub.ID, w.Identity); err != nil {
			c.logger.Error("reassign failed", "submission_id", sub.ID, "error", err)
			continue
		}
		if err := c.reg.Acquire(w.Identity); err != nil {
			c.logger.Error("slot acquire failed", "worker", w.Identity, "error", err)
		}
		c.logger.Info("submission reassigned", "submission_id", sub.ID, "worker", w.Identity)
	}

	for _, sub := range c.table.InStatus(models.StatusSubmitted) {
		if now.Sub(sub.CreatedAt) > c.cfg.SchedulingDeadline {
			rec, err := c.table.Transition(sub.ID, models.StatusFailed,
				WithFailureCause(models.CauseSchedulingTimeout))
			if err != nil {
				c.logger.Error("scheduling timeout transition failed", "submission_id", sub.ID, "error", err)
				continue
			}
			c.persist(ctx, rec)
			c.logger.Warn("no capable worker before deadline", "submission_id", sub.ID)
			continue
		}

		w, ok := c.reg.PickWorker()
		if !ok {
			continue
		}
		rec, err := c.table.Transition(sub.ID, models.StatusScheduled, WithWorker(w.Identity))
		if err != nil {
			c.logger.Error("schedule transition failed", "submission_id", sub.ID, "error", err)
			continue
		}
		if err := c.reg.Acquire(w.Identity); err != nil {
			c.logger.Error("slot acquire failed", "worker", w.Identity, "error", err)
		}
		c.persist(ctx, rec)
		c.logger.Info("submission scheduled", "submission_id", sub.ID, "worker", w.Identity)
	}
}

func (c *Coordinator) persist(ctx context.Context, sub *models.Submission) {
	if c.history != nil {
		if err := c.history.UpdateSubmission(ctx, sub); err != nil {
			c.logger.Warn("submission history update failed", "submission_id", sub.ID, "error", err)
		}
	}
	c.cacheStatus(ctx, sub)
}

func (c *Coordinator) cacheStatus(ctx context.Context, sub *models.Submission) {
	if c.cache == nil {
		return
	}
	if err := c.cache.SetSubmissionStatus(ctx, sub.ID, sub.Status, statusCacheTTL); err != nil {
		c.logger.Warn("status cache write failed", "submission_id", sub.ID, "error", err)
	}
}
