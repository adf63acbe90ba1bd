package worker_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rahulmehra-dev/convoy/internal/artifact"
	"github.com/rahulmehra-dev/convoy/internal/cluster"
	"github.com/rahulmehra-dev/convoy/internal/worker"
	"github.com/rahulmehra-dev/convoy/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildBundle packages a shell script as the single unit of a bundle and
// returns the bundle path.
func buildBundle(t *testing.T, script string) string {
	t.Helper()

	dir := t.TempDir()
	src := filepath.Join(dir, "job.sh")
	require.NoError(t, os.WriteFile(src, []byte(script), 0o644))

	bundle := filepath.Join(dir, "job.bundle")
	_, err := artifact.Build("job.main", []string{src}, bundle)
	require.NoError(t, err)
	return bundle
}

func newTask(bundlePath string, args ...string) *cluster.Task {
	return &cluster.Task{
		SubmissionID: uuid.New(),
		ArtifactPath: bundlePath,
		EntryPoint:   "job.main",
		Args:         args,
		DeployMode:   models.DeployModeCluster,
	}
}

func newExecutor(t *testing.T) (*worker.ProcessExecutor, string) {
	t.Helper()
	volume := t.TempDir()
	return &worker.ProcessExecutor{WorkDir: t.TempDir(), VolumeRoot: volume}, volume
}

func TestProcessExecutor_Success(t *testing.T) {
	bundle := buildBundle(t, "#!/bin/sh\necho \"hello from $CONVOY_SUBMISSION_ID\"\n")
	exec, volume := newExecutor(t)
	task := newTask(bundle)

	result, err := exec.Execute(context.Background(), task)
	require.NoError(t, err)

	expected := filepath.Join(volume, "outputs", task.SubmissionID.String()+".log")
	assert.Equal(t, expected, result.OutputPath)

	out, err := os.ReadFile(result.OutputPath)
	require.NoError(t, err)
	assert.Contains(t, string(out), "hello from "+task.SubmissionID.String())
}

func TestProcessExecutor_ArgsAndEnvironment(t *testing.T) {
	bundle := buildBundle(t, "#!/bin/sh\necho \"arg1=$1 root=$CONVOY_VOLUME_ROOT symbol=$CONVOY_ENTRY_SYMBOL\"\n")
	exec, volume := newExecutor(t)
	task := newTask(bundle, "--verbose")

	result, err := exec.Execute(context.Background(), task)
	require.NoError(t, err)

	out, err := os.ReadFile(result.OutputPath)
	require.NoError(t, err)
	assert.Contains(t, string(out), "arg1=--verbose")
	assert.Contains(t, string(out), "root="+volume)
	assert.Contains(t, string(out), "symbol=main")
}

func TestProcessExecutor_NonZeroExit(t *testing.T) {
	bundle := buildBundle(t, "#!/bin/sh\necho doomed >&2\nexit 3\n")
	exec, _ := newExecutor(t)

	_, err := exec.Execute(context.Background(), newTask(bundle))
	require.Error(t, err)

	var execErr *worker.ExecError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, models.CauseRuntimeFailure, execErr.Cause)
}

func TestProcessExecutor_MissingBundle(t *testing.T) {
	exec, _ := newExecutor(t)
	task := newTask(filepath.Join(t.TempDir(), "nope.bundle"))

	_, err := exec.Execute(context.Background(), task)
	require.Error(t, err)

	var execErr *worker.ExecError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, models.CauseArtifactNotFound, execErr.Cause)
}

func TestProcessExecutor_EntryPointNotInBundle(t *testing.T) {
	bundle := buildBundle(t, "#!/bin/sh\ntrue\n")
	exec, _ := newExecutor(t)

	task := newTask(bundle)
	task.EntryPoint = "other.main"

	_, err := exec.Execute(context.Background(), task)
	require.Error(t, err)

	var execErr *worker.ExecError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, models.CauseEntryPoint, execErr.Cause)
}

func TestProcessExecutor_ScratchDirExhaustion(t *testing.T) {
	bundle := buildBundle(t, "#!/bin/sh\ntrue\n")

	// A regular file as the work dir makes scratch allocation fail the
	// same way a full disk would.
	notADir := filepath.Join(t.TempDir(), "flat")
	require.NoError(t, os.WriteFile(notADir, nil, 0o644))
	exec := &worker.ProcessExecutor{WorkDir: notADir, VolumeRoot: t.TempDir()}

	_, err := exec.Execute(context.Background(), newTask(bundle))
	require.Error(t, err)

	var execErr *worker.ExecError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, models.CauseResourceExhausted, execErr.Cause)
}

func TestProcessExecutor_CancelKillsProcess(t *testing.T) {
	bundle := buildBundle(t, "#!/bin/sh\nsleep 30\n")
	exec, _ := newExecutor(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := exec.Execute(ctx, newTask(bundle))
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		var execErr *worker.ExecError
		require.True(t, errors.As(err, &execErr))
		assert.Equal(t, models.CauseCancelled, execErr.Cause)
	case <-time.After(5 * time.Second):
		t.Fatal("executor did not stop after cancel")
	}
}
