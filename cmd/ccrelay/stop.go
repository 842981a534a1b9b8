package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccrelay/ccrelay/pkg/config"
	"github.com/ccrelay/ccrelay/pkg/lifecycle"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running relay",
	Long: `Stop the relay recorded in the PID file.

The relay gets SIGTERM and drains in-flight requests before exiting; its
shutdown also restores the CLIs' original configuration files.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pidFile := lifecycle.NewPIDFile(filepath.Join(config.DefaultDir(), "ccrelay.pid"))

		pid, err := pidFile.Running()
		if errors.Is(err, lifecycle.ErrNotRunning) {
			fmt.Println("relay is not running")
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Printf("Stopping relay (pid %d)...\n", pid)
		if err := pidFile.Stop(20 * time.Second); err != nil {
			return err
		}
		fmt.Println("✓ Relay stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
