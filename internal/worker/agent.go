package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rahulmehra-dev/convoy/internal/cluster"
	"github.com/rahulmehra-dev/convoy/internal/config"
	"golang.org/x/sync/semaphore"
)

// Coordinator is the API surface the agent needs from the coordinator.
type Coordinator interface {
	RegisterWorker(ctx context.Context, identity string, capacity int) error
	Heartbeat(ctx context.Context, identity string) ([]uuid.UUID, error)
	Deregister(ctx context.Context, identity string) error
	PollTask(ctx context.Context, identity string) (*cluster.Task, error)
	AckTask(ctx context.Context, identity string, id uuid.UUID) error
	ReportResult(ctx context.Context, identity string, id uuid.UUID, success bool, cause, outputPath string) error
}

// Agent is the worker daemon: it registers with the coordinator, polls for
// assigned tasks, runs them through the executor, and reports results.
// Capacity is enforced locally with a weighted semaphore even though the
// coordinator already respects it when assigning.
type Agent struct {
	logger *slog.Logger
	cfg    config.WorkerConfig
	coord  Coordinator
	exec   Executor
	slots  *semaphore.Weighted

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

// NewAgent creates a worker agent.
func NewAgent(logger *slog.Logger, cfg config.WorkerConfig, coord Coordinator, exec Executor) *Agent {
	return &Agent{
		logger:  logger,
		cfg:     cfg,
		coord:   coord,
		exec:    exec,
		slots:   semaphore.NewWeighted(int64(cfg.Capacity)),
		running: make(map[uuid.UUID]context.CancelFunc),
	}
}

// Run registers and drives the heartbeat and poll loops until ctx is
// cancelled, then deregisters and waits for in-flight tasks.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.register(ctx); err != nil {
		return err
	}
	a.logger.Info("worker registered",
		"identity", a.cfg.Identity, "capacity", a.cfg.Capacity)

	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		a.heartbeatLoop(ctx)
	}()
	go func() {
		defer loops.Done()
		a.pollLoop(ctx)
	}()
	loops.Wait()

	// Deregister on a fresh context; ctx is already cancelled.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.coord.Deregister(shutdownCtx, a.cfg.Identity); err != nil {
		a.logger.Warn("deregister failed", "error", err)
	}

	a.cancelAll()
	a.wg.Wait()
	a.logger.Info("worker stopped", "identity", a.cfg.Identity)
	return nil
}

// register retries with exponential backoff until the coordinator accepts
// the registration or ctx is cancelled.
func (a *Agent) register(ctx context.Context) error {
	operation := func() error {
		return a.coord.RegisterWorker(ctx, a.cfg.Identity, a.cfg.Capacity)
	}
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	return backoff.Retry(operation, policy)
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cancels, err := a.coord.Heartbeat(ctx, a.cfg.Identity)
			if err != nil {
				a.logger.Warn("heartbeat failed", "error", err)
				// A coordinator restart forgets registrations; re-register
				// and carry on.
				if regErr := a.coord.RegisterWorker(ctx, a.cfg.Identity, a.cfg.Capacity); regErr == nil {
					a.logger.Info("re-registered after heartbeat rejection")
				}
				continue
			}
			for _, id := range cancels {
				a.abort(id)
			}
		}
	}
}

func (a *Agent) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.slots.TryAcquire(1) {
				continue
			}
			task, err := a.coord.PollTask(ctx, a.cfg.Identity)
			if err != nil || task == nil {
				if err != nil {
					a.logger.Warn("poll failed", "error", err)
				}
				a.slots.Release(1)
				continue
			}
			a.launch(ctx, task)
		}
	}
}

// launch acks and runs one task. The slot is released when the task
// finishes.
func (a *Agent) launch(ctx context.Context, task *cluster.Task) {
	if err := a.coord.AckTask(ctx, a.cfg.Identity, task.SubmissionID); err != nil {
		a.logger.Warn("ack failed", "submission_id", task.SubmissionID, "error", err)
		a.slots.Release(1)
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.running[task.SubmissionID] = cancel
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.slots.Release(1)
		defer func() {
			a.mu.Lock()
			delete(a.running, task.SubmissionID)
			a.mu.Unlock()
			cancel()
		}()

		a.logger.Info("task started",
			"submission_id", task.SubmissionID, "entry_point", task.EntryPoint)

		result, err := a.exec.Execute(taskCtx, task)

		// Report on a fresh context so a shutdown mid-task still delivers
		// the terminal status.
		reportCtx, reportCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer reportCancel()

		if err != nil {
			cause := causeOf(err)
			a.logger.Warn("task failed",
				"submission_id", task.SubmissionID, "cause", cause, "error", err)
			if rerr := a.coord.ReportResult(reportCtx, a.cfg.Identity, task.SubmissionID, false, cause, ""); rerr != nil {
				a.logger.Error("result report failed", "submission_id", task.SubmissionID, "error", rerr)
			}
			return
		}

		a.logger.Info("task succeeded",
			"submission_id", task.SubmissionID, "output", result.OutputPath)
		if rerr := a.coord.ReportResult(reportCtx, a.cfg.Identity, task.SubmissionID, true, "", result.OutputPath); rerr != nil {
			a.logger.Error("result report failed", "submission_id", task.SubmissionID, "error", rerr)
		}
	}()
}

// abort cancels a running task's context. The executor kills the workload
// and the task goroutine reports the failure.
func (a *Agent) abort(id uuid.UUID) {
	a.mu.Lock()
	cancel, ok := a.running[id]
	a.mu.Unlock()
	if ok {
		a.logger.Info("aborting task", "submission_id", id)
		cancel()
	}
}

func (a *Agent) cancelAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, cancel := range a.running {
		cancel()
	}
}

func causeOf(err error) string {
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return execErr.Cause
	}
	return ""
}
