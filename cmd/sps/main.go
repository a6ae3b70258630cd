package main

import (
	"fmt"
	"os"

	"github.com/sps-pm/sps/internal/cmd"
	"github.com/sps-pm/sps/internal/config"
	"github.com/sps-pm/sps/internal/logger"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := run(); err != nil {
		logger.Error("sps failed: %v", err)
		os.Exit(1)
	}
}

func run() error {
	// Initialize configuration. Prefix/Cellar/Caskroom/etc. are already
	// derived by config.New() per spec §6; this layer only wires the
	// result into the CLI.
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	// Initialize logger with config
	logger.Init(cfg.Debug, cfg.Verbose, cfg.Quiet)

	// Create and execute root command
	rootCmd := cmd.NewRootCmd(cfg, Version, GitCommit, BuildDate)
	return rootCmd.Execute()
}
