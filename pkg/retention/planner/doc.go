// Package planner turns one channel's expired messages into platform calls.
//
// Build partitions the messages into bulk and single deletes so that no bulk
// call carries a message past the platform's age ceiling and no bulk call is
// smaller than the platform minimum. Executor runs a Plan against a
// retention.Sink and classifies every outcome:
//
//	plan := planner.Build(channelID, rows, clock.Now(), planner.DiscordConstraints())
//	res := executor.Execute(ctx, plan)
//	store.ClearMarked(context.WithoutCancel(ctx), channelID, res.Confirmed)
//
// Messages the platform reports as already deleted are confirmed. A bulk call
// the platform refuses is retried as single deletes and reported through
// Result.Rejected.
package planner
