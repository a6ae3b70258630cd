package cmd

import (
	"fmt"

	"github.com/sps-pm/sps/internal/config"
	"github.com/spf13/cobra"
)

// NewConfigCmd creates the config command
func NewConfigCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show sps and system configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cfg)
		},
	}

	return cmd
}

func showConfig(cfg *config.Config) error {
	fmt.Printf("SPS_PREFIX: %s\n", cfg.Prefix)
	fmt.Printf("SPS_REPOSITORY: %s\n", cfg.Repository)
	fmt.Printf("SPS_LIBRARY: %s\n", cfg.Library)
	fmt.Printf("SPS_CELLAR: %s\n", cfg.Cellar)
	fmt.Printf("SPS_CASKROOM: %s\n", cfg.Caskroom)
	fmt.Printf("SPS_CACHE: %s\n", cfg.Cache)
	fmt.Printf("SPS_LOGS: %s\n", cfg.Logs)
	fmt.Printf("SPS_TEMP: %s\n", cfg.Tmp)

	fmt.Printf("\nBehavior flags:\n")
	fmt.Printf("  Debug: %t\n", cfg.Debug)
	fmt.Printf("  Verbose: %t\n", cfg.Verbose)
	fmt.Printf("  Auto-update: %t\n", !cfg.NoAutoUpdate)
	fmt.Printf("  Max concurrent installs: %d\n", cfg.MaxConcurrentInstalls)

	return nil
}
