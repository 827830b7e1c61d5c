// Package logging provides structured logging with secret redaction.
//
// # Overview
//
// The logging package wraps log/slog to provide:
//   - JSON, text, and console formats
//   - Optional rotating file output (lumberjack)
//   - Context fields: cycle_id, channel_id, guild_id, interaction_id, trace_id
//   - Redaction of bot tokens, authorization headers, and webhook URLs
//   - A runtime-adjustable level for config hot reload
//
// # Usage
//
//	logger, err := logging.New(logging.FromConfig(&cfg.Telemetry.Logging, cfg.Discord.Token))
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	log := logger.Slog()
//	ctx = logging.WithCycleID(ctx, cycleID)
//	log.InfoContext(ctx, "cycle finished", "deleted", n) // includes cycle_id
//
//	logger.SetLevel("debug") // affects every derived logger
package logging
