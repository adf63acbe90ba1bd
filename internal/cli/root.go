// Package cli implements the convoy command-line tool: building and
// staging job artifacts, submitting them to the coordinator, and watching
// them run.
package cli

import (
	"time"

	"github.com/rahulmehra-dev/convoy/internal/client"
	"github.com/rahulmehra-dev/convoy/internal/config"
	"github.com/spf13/cobra"
)

// Exit codes reported by `convoy run`. Scripts branch on these.
const (
	ExitSucceeded   = 0
	ExitFailed      = 1
	ExitLost        = 2
	ExitCancelled   = 3
	ExitPollCeiling = 4
	ExitBuildError  = 10
	ExitStageError  = 11
	ExitSubmitError = 12
)

var (
	coordinatorURL string
	apiKey         string
	volumeRoot     string
)

var rootCmd = &cobra.Command{
	Use:   "convoy",
	Short: "convoy is the command-line tool for submitting jobs to a Convoy cluster",
	Long: `convoy builds deployable job artifacts, stages them onto the shared
data volume, submits them to the coordinator, and tracks them to completion.`,
	SilenceUsage: true,
}

// NewRootCommand wires flags from the environment config and returns the
// root command. Flags override environment values.
func NewRootCommand(cfg *config.Config) *cobra.Command {
	rootCmd.PersistentFlags().StringVar(&coordinatorURL, "coordinator-url",
		cfg.Client.CoordinatorURL, "Base URL of the coordinator API")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key",
		cfg.Client.APIKey, "API key for the coordinator (or CONVOY_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&volumeRoot, "volume-root",
		cfg.Volume.Root, "Root of the shared data volume")

	rootCmd.AddCommand(
		newRunCommand(cfg),
		newStatusCommand(),
		newCancelCommand(),
		newWorkersCommand(),
	)
	return rootCmd
}

func newClient() *client.Client {
	return client.New(coordinatorURL, apiKey, 30*time.Second)
}
