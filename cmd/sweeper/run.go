package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"mercator-hq/sweeper/pkg/cli"
	"mercator-hq/sweeper/pkg/config"
	"mercator-hq/sweeper/pkg/platform/discord"
	"mercator-hq/sweeper/pkg/retention/backfill"
	"mercator-hq/sweeper/pkg/retention/monitor"
	"mercator-hq/sweeper/pkg/server"
	"mercator-hq/sweeper/pkg/telemetry/health"
	"mercator-hq/sweeper/pkg/telemetry/metrics"
	"mercator-hq/sweeper/pkg/telemetry/tracing"
)

var runFlags struct {
	dryRun bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the retention bot",
	Long: `Start the retention bot with the specified configuration.

The bot connects to the Discord gateway, recovers deletions interrupted by
the last shutdown, scans channel history for messages posted while it was
offline, and then deletes messages as their deadlines pass.

Examples:
  # Start with default config
  sweeper run

  # Start with custom config
  sweeper run --config /etc/sweeper/sweeper.yaml

  # Validate config and store without connecting
  sweeper run --dry-run`,
	RunE: runBot,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config and store without connecting to Discord")
}

func runBot(cmd *cobra.Command, args []string) error {
	e, err := newEnv(os.Stdout, true)
	if err != nil {
		return err
	}
	defer e.Close()
	cfg := e.cfg
	config.SetConfig(cfg)

	if err := cfg.Discord.RequireCredentials(); err != nil {
		return cli.WrapConfigError(err)
	}

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		if err := e.store.Ping(cmd.Context()); err != nil {
			return cli.NewCommandError("run", err)
		}
		fmt.Fprintln(out, "✓ Configuration valid")
		fmt.Fprintf(out, "✓ Store reachable (%s)\n", cfg.Store.Backend)
		return nil
	}

	ctx, stop := cli.SignalContext(cmd.Context(), e.logger)
	defer stop()

	printBanner(out, cfg)

	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, prometheus.NewRegistry())

	tracer, err := tracing.New(ctx, &cfg.Telemetry.Tracing, Version)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			e.logger.Warn("failed to flush traces", "error", err)
		}
	}()

	trail := e.newAuditTrail(collector)
	defer trail.Close()

	session, err := discord.NewSession(cfg.Discord.Token)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	sink := discord.NewSink(session, discord.SinkConfigFromSettings(&cfg.Discord))

	c, err := e.newCore(sink, trail, collector, tracer)
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	scheduler := monitor.NewScheduler(c.scanner, cfg.Backfill.RescanSchedule)

	var gwOpts discord.GatewayOptions
	if cfg.Backfill.OnReconnect {
		gwOpts.OnReconnect = func() {
			scheduler.TriggerRescan(backfill.ReasonReconnect)
		}
	}
	commands := discord.NewCommands(c.service, cfg.Retention.MaxDuration)
	gateway := discord.NewGateway(session, c.service, commands, gwOpts)

	// Open the gateway before the startup scan so messages posted during
	// it are registered live.
	if err := gateway.Open(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	defer gateway.Close()
	fmt.Fprintln(out, "✓ Gateway connected")

	errChan := make(chan error, 4)
	reportPanic := func(name string) func(any) {
		return func(r any) { errChan <- fmt.Errorf("%s panicked: %v", name, r) }
	}

	cli.SafeGo(e.logger, "monitor", func() {
		if err := c.monitor.Run(ctx); err != nil {
			errChan <- fmt.Errorf("monitor: %w", err)
		}
	}, reportPanic("monitor"))

	if err := scheduler.Start(ctx); err != nil {
		return cli.NewConfigError("backfill.rescan_schedule", err.Error())
	}
	if next := scheduler.NextRun(); next != nil {
		e.logger.Debug("rescan scheduler started", "next_rescan", next)
	}

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = newOpsServer(e, c, scheduler, gateway, collector)
		cli.SafeGo(e.logger, "ops-server", func() {
			if err := srv.Start(); err != nil {
				errChan <- err
			}
		}, reportPanic("ops server"))
		fmt.Fprintf(out, "✓ Ops server listening on %s\n", cfg.Server.ListenAddress)
	}

	if err := watchConfig(ctx, e, c); err != nil {
		e.logger.Warn("config hot reload disabled", "error", err)
	}

	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	var runErr error
	select {
	case <-ctx.Done():
		fmt.Fprintln(out, "\nShutting down gracefully...")
	case err := <-errChan:
		e.logger.Error("component failed, shutting down", "error", err)
		runErr = cli.NewCommandError("run", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := gateway.Close(); err != nil {
		e.logger.Warn("failed to close gateway", "error", err)
	}
	scheduler.Stop()

	monitorStopped := awaitDone(shutdownCtx, c.monitor.Done())

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			e.logger.Error("shutdown failed", "error", err)
		}
	}

	// The store closes after return. Rows of an unfinished cycle stay
	// marked and the next start retries them.
	if !monitorStopped {
		e.logger.Warn("monitor still running at shutdown timeout, confirmed deletions may stay marked until the next start",
			"timeout", cfg.Server.ShutdownTimeout)
	}

	if runErr == nil {
		fmt.Fprintln(out, "✓ Stopped")
	}
	return runErr
}

// awaitDone reports whether done closed before ctx expired.
func awaitDone(ctx context.Context, done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	case <-ctx.Done():
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
}

// newOpsServer builds the ops server with its health checks and status view.
func newOpsServer(e *env, c *core, scheduler *monitor.Scheduler, gateway *discord.Gateway, collector *metrics.Collector) *server.Server {
	cfg := e.cfg

	checker := health.New(5 * time.Second)
	checker.RegisterCheck("store", e.store.Ping)
	checker.RegisterAdvisory("gateway", health.Flag(gateway.Connected, "gateway session is not connected"))
	checker.RegisterAdvisory("monitor", health.Flag(func() bool {
		return c.monitor.State() == monitor.StatePolling
	}, "monitor is not polling"))
	checker.RegisterAdvisory("monitor_heartbeat", health.Heartbeat(c.monitor.LastCycle, 3*cfg.Monitor.MaxWait, 10*time.Minute))

	status := func(ctx context.Context) (server.Status, error) {
		st, err := server.StoreStatus(ctx, e.store)
		if err != nil {
			return st, err
		}
		st.State = c.monitor.State().String()
		if last := c.monitor.LastCycle(); !last.IsZero() {
			st.LastCycle = &last
		}
		st.NextRescan = scheduler.NextRun()
		st.Rescanning = scheduler.Rescanning()
		connected := gateway.Connected()
		st.Connected = &connected
		return st, nil
	}

	deps := server.Deps{
		Health:   checker,
		Channels: c.service,
		Audit:    e.store,
		Status:   status,
		Version:  server.Version{Version: Version, Commit: GitCommit, BuildTime: BuildDate},
		Logger:   e.logger,
	}
	if cfg.Telemetry.Metrics.Enabled {
		deps.Metrics = collector.Handler()
	}
	return server.New(&cfg.Server, cfg.Telemetry.Metrics.Path, deps)
}

// watchConfig applies the hot-reloadable settings whenever the config file
// changes: the log level and the automated-author exemption.
func watchConfig(ctx context.Context, e *env, c *core) error {
	if _, err := os.Stat(cfgFile); err != nil {
		return fmt.Errorf("config file not watchable: %w", err)
	}
	watcher, err := config.NewWatcher(cfgFile, time.Second, e.logger)
	if err != nil {
		return err
	}

	cli.SafeGo(e.logger, "config-watcher", func() {
		err := watcher.Watch(ctx, func(next *config.Config) {
			applyReload(e, c, next)
		})
		if err != nil {
			e.logger.Warn("config watcher stopped", "error", err)
		}
	}, nil)
	return nil
}

func applyReload(e *env, c *core, next *config.Config) {
	// --log-level pins the level for the life of the process.
	if logLevel == "" {
		if err := e.log.SetLevel(next.Telemetry.Logging.Level); err != nil {
			e.logger.Warn("ignoring invalid reloaded log level", "error", err)
		}
	}
	c.filter.SetExemptAutomated(next.Retention.ExemptAutomated)

	e.logger.Info("configuration reloaded",
		"log_level", e.log.Level().String(),
		"exempt_automated", next.Retention.ExemptAutomated,
	)
}

func printBanner(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "Sweeper v%s\n", Version)
	fmt.Fprintf(w, "Loading configuration from: %s\n", cfgFile)
	fmt.Fprintln(w, "✓ Configuration loaded")
	fmt.Fprintf(w, "✓ Store: %s\n", cfg.Store.Backend)
	fmt.Fprintf(w, "✓ Max retention: %s\n", cfg.Retention.MaxDuration)
}
