package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccrelay/ccrelay/pkg/config"
	"github.com/ccrelay/ccrelay/pkg/lifecycle"
	"github.com/ccrelay/ccrelay/pkg/proxy/handlers"
	"github.com/ccrelay/ccrelay/pkg/telemetry/history"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running relay's routing state",
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

		// Port comes from the same config the running instance loaded.
		port := config.DefaultListenPort
		cfg, cfgErr := config.LoadConfigWithEnvOverrides(cfgFile)
		if cfgErr == nil {
			port = cfg.Listen.Port
		}

		status, err := fetchStatus(port)
		if err != nil {
			fmt.Printf("relay is running (pid %d) but the status endpoint did not answer: %v\n", pid, err)
			return nil
		}

		fmt.Printf("ccrelay %s (pid %d), up %s\n", status.Version, status.PID,
			(time.Duration(status.UptimeSeconds) * time.Second).String())
		fmt.Printf("listening on %s\n", status.Listen)
		if status.LANURL != "" {
			fmt.Printf("LAN access: %s\n", status.LANURL)
		}
		for _, svc := range status.Services {
			fmt.Printf("\n%s (%d providers)\n", svc.Service, len(svc.Providers))
			for i, p := range svc.Providers {
				marker := " "
				if i == svc.PinnedIndex {
					marker = "*"
				}
				fmt.Printf("  %s [%d] %s\n", marker, i, p)
			}
			if svc.PinnedIndex >= 0 {
				fmt.Printf("  pinned to %s for another %ds\n", svc.PinnedProvider, svc.RemainingSeconds)
			} else {
				fmt.Printf("  no active pin; next request starts at the primary\n")
			}
		}

		if cfgErr == nil && cfg.Telemetry.History.Enabled {
			printRecentFailures(cmd.Context(), cfg.Telemetry.History.Path)
		}
		return nil
	},
}

// printRecentFailures shows the latest failover-triggering attempts from
// the history database. Best effort; the relay owns the database and a
// locked or missing file just means no digest.
func printRecentFailures(ctx context.Context, path string) {
	store, err := history.Open(path)
	if err != nil {
		return
	}
	defer store.Close()

	failures, err := store.RecentFailures(ctx, 5)
	if err != nil || len(failures) == 0 {
		return
	}
	fmt.Println("\nrecent provider failures:")
	for _, f := range failures {
		detail := fmt.Sprintf("HTTP %d", f.Status)
		if f.Status == 0 {
			detail = f.Outcome
		}
		fmt.Printf("  %s  %s [%d] %s: %s\n",
			f.CreatedAt.Format("2006-01-02 15:04:05"), f.Service, f.ProviderIndex, f.Provider, detail)
	}
}

func fetchStatus(port int) (*handlers.StatusResponse, error) {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/status", port))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var status handlers.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
