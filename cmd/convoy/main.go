// Package main is the entrypoint for the convoy CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rahulmehra-dev/convoy/internal/cli"
	"github.com/rahulmehra-dev/convoy/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "convoy: %v\n", err)
		os.Exit(1)
	}

	root := cli.NewRootCommand(cfg)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "convoy: %v\n", err)

		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
