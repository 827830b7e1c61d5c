/*
Package cli provides command-line helpers shared by the sweeper commands.

Output Formatting:

Commands print results as aligned text tables, JSON or CSV:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, channels); err != nil {
		return err
	}

Values implementing Tabular render as tables in text and CSV output. JSON
output always encodes the value itself.

Progress Reporting:

	progress := cli.NewProgressReporter(os.Stderr, "channels")
	progress.Start(int64(total))
	progress.Update(int64(done))
	progress.Finish()

Signal Handling:

	ctx, stop := cli.SignalContext(context.Background(), logger)
	defer stop()

The first SIGINT or SIGTERM cancels ctx. A second one exits immediately.

Goroutines:

SafeGo starts a goroutine that logs a panic with its stack instead of
crashing the process.
*/
package cli
