package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rahulmehra-dev/convoy/internal/artifact"
	"github.com/rahulmehra-dev/convoy/internal/client"
	"github.com/rahulmehra-dev/convoy/internal/config"
	"github.com/rahulmehra-dev/convoy/internal/stage"
	"github.com/rahulmehra-dev/convoy/pkg/models"
	"github.com/spf13/cobra"
)

// ExitError carries the process exit code for a failed run.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

const superviseRetries = 3

func newRunCommand(cfg *config.Config) *cobra.Command {
	var (
		entryPoint string
		jobArgs    []string
		datasets   []string
		deployMode string
		supervise  bool
		detach     bool
	)

	cmd := &cobra.Command{
		Use:   "run --entry-point UNIT.SYMBOL SOURCE_UNIT...",
		Short: "Build, stage, and submit a job, then wait for it to finish",
		Long: `Run packages the given source units into a bundle, stages the bundle
and any datasets onto the shared volume, submits the job, and polls the
coordinator until the job reaches a terminal status. The exit code
reflects the outcome.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := runOptions{
				entryPoint: entryPoint,
				units:      args,
				jobArgs:    jobArgs,
				datasets:   datasets,
				deployMode: deployMode,
				supervise:  supervise,
				detach:     detach,

				pollInterval: cfg.Client.PollInterval,
				pollCeiling:  cfg.Client.PollCeiling,
			}
			return doRun(cmd.Context(), cmd, newClient(), opts)
		},
	}

	cmd.Flags().StringVar(&entryPoint, "entry-point", "", "Entry point as unit.symbol (required)")
	cmd.Flags().StringArrayVar(&jobArgs, "arg", nil, "Argument passed to the job (repeatable)")
	cmd.Flags().StringArrayVar(&datasets, "dataset", nil, "Dataset file or directory to stage (repeatable)")
	cmd.Flags().StringVar(&deployMode, "deploy-mode", models.DeployModeCluster, "Deploy mode: client or cluster")
	cmd.Flags().BoolVar(&supervise, "supervise", false, "Resubmit automatically if the job fails or is lost")
	cmd.Flags().BoolVar(&detach, "detach", false, "Exit after submission instead of waiting")
	cmd.MarkFlagRequired("entry-point")

	return cmd
}

type runOptions struct {
	entryPoint string
	units      []string
	jobArgs    []string
	datasets   []string
	deployMode string
	supervise  bool
	detach     bool

	pollInterval time.Duration
	pollCeiling  time.Duration
}

func doRun(ctx context.Context, cmd *cobra.Command, c *client.Client, opts runOptions) error {
	// Build the bundle in a scratch dir; staging moves it onto the volume.
	scratch, err := os.MkdirTemp("", "convoy-build-")
	if err != nil {
		return &ExitError{Code: ExitBuildError, Err: err}
	}
	defer os.RemoveAll(scratch)

	unit, _ := artifact.SplitEntryPoint(opts.entryPoint)
	bundlePath := filepath.Join(scratch, unit+".bundle")
	manifest, err := artifact.Build(opts.entryPoint, opts.units, bundlePath)
	if err != nil {
		return &ExitError{Code: ExitBuildError, Err: fmt.Errorf("building artifact: %w", err)}
	}
	cmd.Printf("built bundle %s (%d units)\n", manifest.ArtifactID, len(manifest.Units))

	staged, err := stage.Stage(ctx, bundlePath, opts.datasets, volumeRoot)
	if err != nil {
		return &ExitError{Code: ExitStageError, Err: fmt.Errorf("staging: %w", err)}
	}
	cmd.Printf("staged artifact at %s\n", staged.ArtifactPath)

	attempts := 1
	if opts.supervise {
		attempts += superviseRetries
	}

	var lastStatus string
	for attempt := 1; attempt <= attempts; attempt++ {
		id, err := c.Submit(ctx, client.SubmitRequest{
			ArtifactPath: staged.ArtifactPath,
			EntryPoint:   opts.entryPoint,
			Args:         opts.jobArgs,
			DeployMode:   opts.deployMode,
			Supervise:    opts.supervise,
		})
		if err != nil {
			return &ExitError{Code: ExitSubmitError, Err: fmt.Errorf("submitting: %w", err)}
		}
		cmd.Printf("submitted %s\n", id)

		if opts.detach {
			return nil
		}

		status, err := pollUntilTerminal(ctx, cmd, c, id, opts.pollInterval, opts.pollCeiling)
		if err != nil {
			return err
		}
		lastStatus = status

		if status == models.StatusSucceeded || status == models.StatusCancelled {
			break
		}
		if attempt < attempts {
			cmd.Printf("job %s, resubmitting (%d/%d)\n", status, attempt, superviseRetries)
		}
	}

	switch lastStatus {
	case models.StatusSucceeded:
		return nil
	case models.StatusLost:
		return &ExitError{Code: ExitLost, Err: fmt.Errorf("job lost")}
	case models.StatusCancelled:
		return &ExitError{Code: ExitCancelled, Err: fmt.Errorf("job cancelled")}
	default:
		return &ExitError{Code: ExitFailed, Err: fmt.Errorf("job failed")}
	}
}

// pollUntilTerminal polls the status endpoint until the submission reaches
// a terminal state or the ceiling elapses.
func pollUntilTerminal(ctx context.Context, cmd *cobra.Command, c *client.Client, id uuid.UUID, interval, ceiling time.Duration) (string, error) {
	deadline := time.Now().Add(ceiling)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	for {
		select {
		case <-ctx.Done():
			return "", &ExitError{Code: ExitSubmitError, Err: ctx.Err()}
		case <-ticker.C:
		}

		// The ceiling must hold even when the coordinator is down, so it
		// is checked before each fetch, not only after a successful one.
		if time.Now().After(deadline) {
			msg := fmt.Errorf("no terminal status after %s", ceiling)
			if last != "" {
				msg = fmt.Errorf("job still %s after %s", last, ceiling)
			}
			return "", &ExitError{Code: ExitPollCeiling, Err: msg}
		}

		sub, err := c.Status(ctx, id)
		if err != nil {
			// Transient coordinator outages should not kill a watch.
			if errors.Is(err, client.ErrUnreachable) || errors.Is(err, client.ErrTimeout) {
				continue
			}
			return "", &ExitError{Code: ExitSubmitError, Err: err}
		}

		if sub.Status != last {
			line := sub.Status
			if sub.WorkerID != "" {
				line += " on " + sub.WorkerID
			}
			if sub.FailureCause != nil {
				line += " (" + *sub.FailureCause + ")"
			}
			cmd.Printf("%s\n", line)
			last = sub.Status
		}

		if models.Terminal(sub.Status) {
			return sub.Status, nil
		}
	}
}
