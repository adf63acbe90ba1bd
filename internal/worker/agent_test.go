package worker_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rahulmehra-dev/convoy/internal/cluster"
	"github.com/rahulmehra-dev/convoy/internal/config"
	"github.com/rahulmehra-dev/convoy/internal/worker"
	"github.com/rahulmehra-dev/convoy/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCoordinator records the agent's protocol traffic.
type fakeCoordinator struct {
	mu          sync.Mutex
	registered  int
	heartbeats  int
	deregisters int
	acks        []uuid.UUID
	results     map[uuid.UUID]reportedResult
	tasks       []*cluster.Task
	cancels     []uuid.UUID
}

type reportedResult struct {
	success    bool
	cause      string
	outputPath string
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{results: make(map[uuid.UUID]reportedResult)}
}

func (f *fakeCoordinator) RegisterWorker(_ context.Context, _ string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered++
	return nil
}

func (f *fakeCoordinator) Heartbeat(_ context.Context, _ string) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	out := f.cancels
	f.cancels = nil
	return out, nil
}

func (f *fakeCoordinator) Deregister(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deregisters++
	return nil
}

func (f *fakeCoordinator) PollTask(_ context.Context, _ string) (*cluster.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tasks) == 0 {
		return nil, nil
	}
	task := f.tasks[0]
	f.tasks = f.tasks[1:]
	return task, nil
}

func (f *fakeCoordinator) AckTask(_ context.Context, _ string, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, id)
	return nil
}

func (f *fakeCoordinator) ReportResult(_ context.Context, _ string, id uuid.UUID, success bool, cause, outputPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[id] = reportedResult{success: success, cause: cause, outputPath: outputPath}
	return nil
}

func (f *fakeCoordinator) enqueue(task *cluster.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
}

func (f *fakeCoordinator) requestCancel(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, id)
}

func (f *fakeCoordinator) resultOf(id uuid.UUID) (reportedResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.results[id]
	return r, ok
}

// fakeExecutor runs tasks in memory.
type fakeExecutor struct {
	delay time.Duration
	err   error
}

func (f *fakeExecutor) Execute(ctx context.Context, task *cluster.Task) (*worker.Result, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, &worker.ExecError{Cause: models.CauseCancelled, Err: ctx.Err()}
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &worker.Result{OutputPath: "/data/outputs/" + task.SubmissionID.String() + ".log"}, nil
}

func testWorkerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		Identity:          "worker-test",
		Capacity:          2,
		HeartbeatInterval: 20 * time.Millisecond,
		PollInterval:      10 * time.Millisecond,
	}
}

func runAgent(t *testing.T, coord *fakeCoordinator, exec worker.Executor) (stop func()) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	agent := worker.NewAgent(logger, testWorkerConfig(), coord, exec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = agent.Run(ctx)
	}()

	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("agent did not stop")
		}
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestAgent_ExecutesAndReportsSuccess(t *testing.T) {
	coord := newFakeCoordinator()
	stop := runAgent(t, coord, &fakeExecutor{})
	defer stop()

	task := &cluster.Task{SubmissionID: uuid.New(), ArtifactPath: "/data/a.bundle", EntryPoint: "a.main"}
	coord.enqueue(task)

	waitFor(t, 2*time.Second, func() bool {
		_, ok := coord.resultOf(task.SubmissionID)
		return ok
	})

	r, _ := coord.resultOf(task.SubmissionID)
	assert.True(t, r.success)
	assert.Contains(t, r.outputPath, task.SubmissionID.String())

	coord.mu.Lock()
	defer coord.mu.Unlock()
	assert.Equal(t, []uuid.UUID{task.SubmissionID}, coord.acks)
	assert.Equal(t, 1, coord.registered)
}

func TestAgent_ReportsFailureCause(t *testing.T) {
	coord := newFakeCoordinator()
	execErr := &worker.ExecError{Cause: models.CauseEntryPoint}
	stop := runAgent(t, coord, &fakeExecutor{err: execErr})
	defer stop()

	task := &cluster.Task{SubmissionID: uuid.New(), ArtifactPath: "/data/a.bundle", EntryPoint: "gone.main"}
	coord.enqueue(task)

	waitFor(t, 2*time.Second, func() bool {
		_, ok := coord.resultOf(task.SubmissionID)
		return ok
	})

	r, _ := coord.resultOf(task.SubmissionID)
	assert.False(t, r.success)
	assert.Equal(t, models.CauseEntryPoint, r.cause)
}

func TestAgent_HeartbeatCancelAbortsTask(t *testing.T) {
	coord := newFakeCoordinator()
	stop := runAgent(t, coord, &fakeExecutor{delay: 10 * time.Second})
	defer stop()

	task := &cluster.Task{SubmissionID: uuid.New(), ArtifactPath: "/data/a.bundle", EntryPoint: "a.main"}
	coord.enqueue(task)

	waitFor(t, 2*time.Second, func() bool {
		coord.mu.Lock()
		defer coord.mu.Unlock()
		return len(coord.acks) == 1
	})

	coord.requestCancel(task.SubmissionID)

	waitFor(t, 2*time.Second, func() bool {
		_, ok := coord.resultOf(task.SubmissionID)
		return ok
	})

	r, _ := coord.resultOf(task.SubmissionID)
	assert.False(t, r.success)
	assert.Equal(t, models.CauseCancelled, r.cause)
}

func TestAgent_HeartbeatsFlow(t *testing.T) {
	coord := newFakeCoordinator()
	stop := runAgent(t, coord, &fakeExecutor{})

	waitFor(t, 2*time.Second, func() bool {
		coord.mu.Lock()
		defer coord.mu.Unlock()
		return coord.heartbeats >= 2
	})
	stop()

	coord.mu.Lock()
	defer coord.mu.Unlock()
	require.Equal(t, 1, coord.deregisters)
}

func TestAgent_DeregistersOnShutdown(t *testing.T) {
	coord := newFakeCoordinator()
	stop := runAgent(t, coord, &fakeExecutor{})
	stop()

	coord.mu.Lock()
	defer coord.mu.Unlock()
	assert.Equal(t, 1, coord.deregisters)
}
