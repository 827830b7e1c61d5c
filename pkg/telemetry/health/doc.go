// Package health provides liveness and readiness checks for sweeper.
//
// # Endpoints
//
//   - /health: liveness, always ok while the process serves HTTP
//   - /ready: readiness, aggregates registered component checks
//   - /version: build information
//
// # Checks
//
// Critical checks (the retention store) make readiness fail with 503.
// Advisory checks (gateway connection, monitor heartbeat) only mark it
// degraded, since the store keeps every deadline while the bot is offline.
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("store", store.Ping)
//	checker.RegisterAdvisory("gateway", health.Flag(bot.Connected, "gateway disconnected"))
//	checker.RegisterAdvisory("monitor", health.Heartbeat(mon.LastCycle, 5*time.Minute, time.Minute))
package health
