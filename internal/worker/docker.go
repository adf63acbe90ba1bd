package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rahulmehra-dev/convoy/internal/artifact"
	"github.com/rahulmehra-dev/convoy/internal/cluster"
	"github.com/rahulmehra-dev/convoy/pkg/models"
)

// DockerExecutor runs the entry unit inside a container. The shared data
// volume is bind-mounted at the same logical path as on the host so
// dataset references resolve identically.
type DockerExecutor struct {
	Image      string
	VolumeRoot string

	cli *client.Client
}

// NewDockerExecutor creates an executor backed by the local Docker daemon.
func NewDockerExecutor(img, volumeRoot string) (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &DockerExecutor{Image: img, VolumeRoot: volumeRoot, cli: cli}, nil
}

func (e *DockerExecutor) Execute(ctx context.Context, task *cluster.Task) (*Result, error) {
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

	// The scratch dir lives under the shared volume so the bind mount
	// carries the extracted unit into the container.
	scratch, err := os.MkdirTemp(e.VolumeRoot, "convoy-task-")
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

	cfg := &container.Config{
		Image: e.Image,
		Cmd:   append([]string{bin}, task.Args...),
		Env: []string{
			"CONVOY_VOLUME_ROOT=" + e.VolumeRoot,
			"CONVOY_SUBMISSION_ID=" + task.SubmissionID.String(),
			"CONVOY_ENTRY_SYMBOL=" + symbol,
		},
		WorkingDir: scratch,
		Labels: map[string]string{
			"convoy.managed":       "true",
			"convoy.submission_id": task.SubmissionID.String(),
		},
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: e.VolumeRoot,
			Target: e.VolumeRoot,
		}},
	}

	name := "convoy-task-" + task.SubmissionID.String()
	resp, err := e.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if client.IsErrNotFound(err) {
		reader, pullErr := e.cli.ImagePull(ctx, e.Image, image.PullOptions{})
		if pullErr != nil {
			return nil, &ExecError{Cause: models.CauseRuntimeFailure, Err: pullErr}
		}
		io.Copy(io.Discard, reader)
		reader.Close()
		resp, err = e.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	}
	if err != nil {
		return nil, &ExecError{Cause: models.CauseRuntimeFailure, Err: err}
	}
	defer e.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})

	if err := e.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, &ExecError{Cause: models.CauseRuntimeFailure, Err: err}
	}

	statusCh, errCh := e.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case <-ctx.Done():
		return nil, &ExecError{Cause: models.CauseCancelled, Err: ctx.Err()}
	case err := <-errCh:
		if ctx.Err() != nil {
			return nil, &ExecError{Cause: models.CauseCancelled, Err: ctx.Err()}
		}
		return nil, &ExecError{Cause: models.CauseRuntimeFailure, Err: err}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	outputPath := filepath.Join(e.VolumeRoot, "outputs", task.SubmissionID.String()+".log")
	if err := e.collectLogs(ctx, resp.ID, outputPath); err != nil {
		return nil, &ExecError{Cause: models.CauseRuntimeFailure, Err: err}
	}

	if exitCode != 0 {
		return nil, &ExecError{
			Cause: models.CauseRuntimeFailure,
			Err:   fmt.Errorf("container exited with code %d", exitCode),
		}
	}
	return &Result{OutputPath: outputPath}, nil
}

func (e *DockerExecutor) collectLogs(ctx context.Context, containerID, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer out.Close()

	logs, err := e.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return err
	}
	defer logs.Close()

	_, err = stdcopy.StdCopy(out, out, logs)
	return err
}
