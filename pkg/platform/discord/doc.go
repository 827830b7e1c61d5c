// Package discord connects the retention scheduler to Discord.
//
// Sink implements retention.Sink over the REST API, Gateway feeds message
// and connection events into the scheduler, and Commands serves the enable,
// disable and list slash commands. All three share one *discordgo.Session.
//
// REST failures are mapped onto the retention error taxonomy:
//
//	10003 Unknown Channel, 404 on a channel, 50001 Missing Access → ErrChannelUnreachable
//	10008 Unknown Message                                        → ErrMessageNotFound
//	50034 message too old for bulk delete                        → ErrBulkTooOld
//
// Bulk sizes are checked locally before any request is made, since the
// client library silently truncates or downgrades out-of-range bulk calls.
package discord
