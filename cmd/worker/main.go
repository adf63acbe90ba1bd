// Package main is the entrypoint for the Convoy worker daemon.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rahulmehra-dev/convoy/internal/client"
	"github.com/rahulmehra-dev/convoy/internal/config"
	"github.com/rahulmehra-dev/convoy/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"identity", cfg.Worker.Identity,
		"capacity", cfg.Worker.Capacity,
		"executor", cfg.Worker.Executor,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exec, err := newExecutor(cfg)
	if err != nil {
		return err
	}

	coord := client.New(cfg.Worker.CoordinatorURL, cfg.Worker.APIKey, 30*time.Second)
	agent := worker.NewAgent(logger, cfg.Worker, coord, exec)

	return agent.Run(ctx)
}

func newExecutor(cfg *config.Config) (worker.Executor, error) {
	switch cfg.Worker.Executor {
	case "docker":
		return worker.NewDockerExecutor(cfg.Worker.DockerImage, cfg.Volume.Root)
	default:
		return &worker.ProcessExecutor{
			WorkDir:    cfg.Worker.WorkDir,
			VolumeRoot: cfg.Volume.Root,
		}, nil
	}
}
