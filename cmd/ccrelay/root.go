package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ccrelay/ccrelay/pkg/config"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "ccrelay",
	Short: "Local failover relay for AI coding CLIs",
	Long: `ccrelay is a local reverse proxy between AI coding CLIs and their API
providers.

The claude and codex CLIs each aim at a single endpoint; ccrelay gives them
one local port backed by a priority-ordered provider chain per service:
  - Requests go to the pinned provider; the primary by default
  - Connection failures, timeouts, 5xx, and 429 fail over mid-request
  - A working provider stays pinned until it fails or sits idle too long
  - Responses stream through byte-for-byte, event streams included`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", config.DefaultConfigPath(), "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
