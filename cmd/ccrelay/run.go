package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/ccrelay/ccrelay/pkg/agentcfg"
	"github.com/ccrelay/ccrelay/pkg/config"
	"github.com/ccrelay/ccrelay/pkg/lifecycle"
	"github.com/ccrelay/ccrelay/pkg/netutil"
	"github.com/ccrelay/ccrelay/pkg/proxy"
	"github.com/ccrelay/ccrelay/pkg/registry"
	"github.com/ccrelay/ccrelay/pkg/routing"
	"github.com/ccrelay/ccrelay/pkg/server"
	"github.com/ccrelay/ccrelay/pkg/telemetry/history"
	"github.com/ccrelay/ccrelay/pkg/telemetry/logging"
	"github.com/ccrelay/ccrelay/pkg/telemetry/metrics"
	"github.com/ccrelay/ccrelay/pkg/upstream"
)

var runFlags struct {
	listenAddress string
	port          int
	logLevel      string
	noAgentConfig bool
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the relay in the foreground",
	Long: `Start the relay with the specified configuration.

The relay listens on the configured address and forwards claude and codex
traffic through their provider chains, failing over as providers fail.

Examples:
  # Start with default config (~/.ccrelay/config.yaml)
  ccrelay run

  # Start with custom config
  ccrelay run --config /etc/ccrelay/config.yaml

  # Override the listen port
  ccrelay run --port 18100

  # Leave the CLIs' own config files alone
  ccrelay run --no-agent-config

  # Validate config without starting
  ccrelay run --dry-run`,
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().IntVarP(&runFlags.port, "port", "p", 0, "override listen port")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.noAgentConfig, "no-agent-config", false, "do not rewrite the CLIs' configuration files")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the relay")
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Listen.Address = runFlags.listenAddress
	}
	if runFlags.port != 0 {
		cfg.Listen.Port = runFlags.port
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logging.Setup(cfg.Telemetry.Logging)

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	// Assemble the forwarding stack.
	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	router := routing.NewRouter(reg, routing.WithStickyWindow(cfg.Routing.StickyWindow))
	client := upstream.NewClient(upstream.WithAttemptTimeout(cfg.Limits.AttemptTimeout))

	var relayMetrics *metrics.RelayMetrics
	var recorders []proxy.AttemptRecorder
	if cfg.Telemetry.Metrics.Enabled {
		relayMetrics = metrics.NewRelayMetrics()
		recorders = append(recorders, relayMetrics)
	}

	var store *history.Store
	if cfg.Telemetry.History.Enabled {
		store, err = history.Open(cfg.Telemetry.History.Path)
		if err != nil {
			return fmt.Errorf("opening attempt history: %w", err)
		}
		defer store.Close()
		recorders = append(recorders, store)
		fmt.Printf("✓ Attempt history at %s\n", cfg.Telemetry.History.Path)
	}

	exec := proxy.NewExecutor(reg, router, client, recorders...)

	// One relay per machine: the PID file is how stop and status find us.
	pidFile := lifecycle.NewPIDFile(filepath.Join(config.DefaultDir(), "ccrelay.pid"))
	if err := pidFile.Acquire(); err != nil {
		return err
	}
	defer pidFile.Release()

	lanAddr := netutil.AdvertiseAddr(cfg.Listen.Address, cfg.Listen.Port)
	lanURL := ""
	if lanAddr != "" {
		lanURL = "http://" + lanAddr
	}

	srv := server.NewServer(cfg, reg, router, exec, relayMetrics, Version, lanURL)

	// Point the CLIs at the relay, restoring their files on exit.
	if cfg.AgentConfig.Enabled && !runFlags.noAgentConfig {
		mgr, err := agentcfg.NewDefaultManager(config.DefaultDir())
		if err != nil {
			return err
		}
		agentAddr := lanAddr
		if agentAddr == "" {
			agentAddr = fmt.Sprintf("127.0.0.1:%d", cfg.Listen.Port)
		}
		if err := mgr.Configure(agentAddr); err != nil {
			return fmt.Errorf("configuring CLI tools: %w", err)
		}
		defer func() {
			if err := mgr.Restore(); err != nil {
				slog.Warn("restoring CLI configuration", "error", err)
			}
		}()
		fmt.Println("✓ claude and codex CLIs configured (restored on stop)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startScheduler(ctx, cfg, router, relayMetrics, store)
	go func() {
		if err := config.Watch(ctx, cfgFile); err != nil {
			slog.Warn("configuration watcher stopped", "error", err)
		}
	}()

	printBanner(cfg, reg, lanURL)

	return srv.Start(ctx)
}

// buildRegistry freezes the configured provider chains.
func buildRegistry(cfg *config.Config) (*registry.Registry, error) {
	lists := make(map[registry.Service][]registry.Provider, len(cfg.Services))
	for name, svc := range cfg.Services {
		providers := make([]registry.Provider, 0, len(svc.Providers))
		for _, p := range svc.Providers {
			providers = append(providers, registry.Provider{
				Name:   p.Name,
				APIURL: p.APIURL,
				APIKey: p.APIKey,
			})
		}
		lists[registry.Service(name)] = providers
	}
	return registry.New(lists)
}

// startScheduler runs the periodic jobs: a routing summary each minute
// (which also refreshes the pinned-index gauge) and a daily history prune.
func startScheduler(ctx context.Context, cfg *config.Config, router *routing.Router, m *metrics.RelayMetrics, store *history.Store) {
	c := cron.New()

	c.Schedule(cron.Every(time.Minute), cron.FuncJob(func() {
		for _, snap := range router.Snapshots() {
			if m != nil {
				m.SetPinnedIndex(snap.Service, snap.Pinned)
			}
			if snap.Pinned < 0 {
				continue
			}
			slog.Debug("routing summary",
				"service", snap.Service,
				"pinned_index", snap.Pinned,
				"provider", snap.PinnedLabel,
				"window_remaining", snap.Remaining.Round(time.Second),
			)
		}
	}))

	if store != nil {
		c.AddFunc("@daily", func() {
			removed, err := store.Prune(ctx, cfg.Telemetry.History.Retention)
			if err != nil {
				slog.Warn("pruning attempt history", "error", err)
				return
			}
			if removed > 0 {
				slog.Info("pruned attempt history", "removed", removed)
			}
		})
	}

	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
}

func printBanner(cfg *config.Config, reg *registry.Registry, lanURL string) {
	fmt.Printf("ccrelay v%s\n", Version)
	fmt.Printf("✓ Configuration loaded from %s\n", cfgFile)
	for _, svc := range registry.Services() {
		if n := reg.Len(svc); n > 0 {
			fmt.Printf("✓ %s: %d provider(s)\n", svc, n)
		}
	}
	fmt.Printf("✓ Listening on %s:%d\n", cfg.Listen.Address, cfg.Listen.Port)
	if lanURL != "" {
		fmt.Printf("✓ LAN access: %s\n", lanURL)
	}
	fmt.Println("\nPress Ctrl+C to stop")
}
