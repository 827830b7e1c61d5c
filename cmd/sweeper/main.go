// Sweeper deletes Discord messages once they outlive their channel's
// retention period.
//
// Moderators enable retention per channel with a slash command. The bot
// records every new message with its deadline, deletes it when the deadline
// passes, and reconciles channel history after downtime or a gateway
// reconnect.
//
// Usage:
//
//	# Register the slash commands once
//	sweeper sync-commands --config sweeper.yaml
//
//	# Start the bot
//	sweeper run --config sweeper.yaml
//
//	# Inspect and administer the store offline
//	sweeper status
//	sweeper channels list --output json
//	sweeper channels enable 1234567890 3d --name general
//	sweeper audit --since 24h
package main

func main() {
	Execute()
}
