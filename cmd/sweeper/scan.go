package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/sweeper/pkg/cli"
	"mercator-hq/sweeper/pkg/platform/discord"
	"mercator-hq/sweeper/pkg/retention/backfill"
	"mercator-hq/sweeper/pkg/telemetry/tracing"
)

var scanFlags struct {
	full bool
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one recovery, backfill and expiry pass, then exit",
	Long: `Run the startup work of the bot once without connecting to the gateway:
finish deletions interrupted by the last shutdown, scan every channel's
history, and delete whatever has expired.

Do not run this while the bot is running against the same store.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().BoolVar(&scanFlags.full, "full", false, "ignore scan cursors and rescan from each channel's watermark")
}

func runScan(cmd *cobra.Command, args []string) error {
	e, err := newEnv(os.Stderr, true)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.cfg.Discord.RequireCredentials(); err != nil {
		return cli.WrapConfigError(err)
	}

	ctx, stop := cli.SignalContext(cmd.Context(), e.logger)
	defer stop()

	trail := e.newAuditTrail(nil)
	defer trail.Close()

	session, err := discord.NewSession(e.cfg.Discord.Token)
	if err != nil {
		return cli.NewCommandError("scan", err)
	}
	sink := discord.NewSink(session, discord.SinkConfigFromSettings(&e.cfg.Discord))

	c, err := e.newCore(sink, trail, nil, tracing.Noop())
	if err != nil {
		return cli.NewCommandError("scan", err)
	}

	out := cmd.OutOrStdout()
	recovered := c.monitor.Recover(ctx)
	if recovered.Err != nil {
		return cli.NewCommandError("scan", recovered.Err)
	}
	fmt.Fprintf(out, "✓ Recovered %d interrupted deletions\n", recovered.Deleted)

	progress := cli.NewProgressReporter(cmd.ErrOrStderr(), "channels")
	started := false
	report, err := c.scanner.ScanAll(ctx, backfill.Options{
		Reason: backfill.ReasonManual,
		Full:   scanFlags.full,
		Progress: func(done, total int) {
			if !started {
				progress.Start(int64(total))
				started = true
			}
			progress.Update(int64(done))
		},
	})
	if err != nil {
		progress.Error(err)
		return cli.NewCommandError("scan", err)
	}
	if started {
		progress.Finish()
	}
	fmt.Fprintf(out, "✓ Scanned %d of %d channels (%d stale, %d failed): %d registered, %d deleted immediately\n",
		report.Scanned, report.Channels, report.Stale, report.Failed, report.Registered, report.FastDeleted)

	cycle := c.monitor.RunCycle(ctx)
	if cycle.Err != nil {
		return cli.NewCommandError("scan", cycle.Err)
	}
	fmt.Fprintf(out, "✓ Deleted %d expired messages across %d channels (%d failed)\n",
		cycle.Deleted, cycle.Channels, cycle.Failed)
	return nil
}
