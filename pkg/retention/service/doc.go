// Package service is the channel-management API of the retention scheduler.
//
// A Service enables and disables retention on channels, lists the channels
// under retention, and registers newly created messages. The chat adapter's
// slash commands, the CLI and the ops server all go through it. It keeps no
// state of its own: every call reads or writes the store.
package service
