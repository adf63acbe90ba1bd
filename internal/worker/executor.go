// Package worker implements the node agent: registration, heartbeats,
// task execution, and result reporting.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rahulmehra-dev/convoy/internal/artifact"
	"github.com/rahulmehra-dev/convoy/internal/cluster"
	"github.com/rahulmehra-dev/convoy/pkg/models"
)

// Result is the outcome of a completed task.
type Result struct {
	OutputPath string
}

// ExecError carries the failure cause reported back to the coordinator.
type ExecError struct {
	Cause string
	Err   error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %v", e.Cause, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Executor runs one task to completion. Implementations must honor ctx
// cancellation by killing the workload.
type Executor interface {
	Execute(ctx context.Context, task *cluster.Task) (*Result, error)
}

// ProcessExecutor runs the entry unit as a child process on the worker
// host. The unit is extracted from the bundle into a scratch directory
// that is removed when the task finishes.
type ProcessExecutor struct {
	WorkDir    string
	VolumeRoot string
}

func (e *ProcessExecutor) Execute(ctx context.Context, task *cluster.Task) (*Result, error) {
	manifest, err := artifact.ReadManifest(task.ArtifactPath)
	if err != nil {
		if errors.Is(err, artifact.ErrBundleNotFound) {
			return nil, &ExecError{Cause: models.CauseArtifactNotFound, Err: err}
		}
		return nil, &ExecError{Cause: models.CauseRuntimeFailure, Err: err}
	}

	unit, symbol := artifact.SplitEntryPoint(task.EntryPoint)
	if _, ok := manifest.FindUnit(unit); !ok {
		return nil, &ExecError{
			Cause: models.CauseEntryPoint,
			Err:   fmt.Errorf("unit %q not in bundle", unit),
		}
	}

	scratch, err := os.MkdirTemp(e.WorkDir, "convoy-task-")
	if err != nil {
		return nil, &ExecError{Cause: models.CauseResourceExhausted, Err: err}
	}
	defer os.RemoveAll(scratch)

	bin, err := artifact.Extract(task.ArtifactPath, unit, scratch)
	if err != nil {
		if errors.Is(err, artifact.ErrUnitMissing) {
			return nil, &ExecError{Cause: models.CauseEntryPoint, Err: err}
		}
		return nil, &ExecError{Cause: models.CauseRuntimeFailure, Err: err}
	}

	outputPath := filepath.Join(e.VolumeRoot, "outputs", task.SubmissionID.String()+".log")
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, &ExecError{Cause: models.CauseRuntimeFailure, Err: err}
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return nil, &ExecError{Cause: models.CauseRuntimeFailure, Err: err}
	}
	defer out.Close()

	cmd := exec.CommandContext(ctx, bin, task.Args...)
	cmd.Dir = scratch
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Env = append(os.Environ(),
		"CONVOY_VOLUME_ROOT="+e.VolumeRoot,
		"CONVOY_SUBMISSION_ID="+task.SubmissionID.String(),
		"CONVOY_ENTRY_SYMBOL="+symbol,
	)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, &ExecError{Cause: models.CauseCancelled, Err: ctx.Err()}
		}
		return nil, &ExecError{Cause: models.CauseRuntimeFailure, Err: err}
	}

	return &Result{OutputPath: outputPath}, nil
}
