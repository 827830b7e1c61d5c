package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/sweeper/pkg/cli"
	"mercator-hq/sweeper/pkg/platform/discord"
)

var syncFlags struct {
	guildID string
}

var syncCmd = &cobra.Command{
	Use:   "sync-commands",
	Short: "Register the slash commands with Discord",
	Long: `Overwrite the bot's slash commands with the current definitions.

Commands are registered globally unless a guild is given, either with --guild
or discord.guild_id. Guild commands appear immediately; global commands can
take up to an hour to propagate.`,
	RunE: syncCommands,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().StringVar(&syncFlags.guildID, "guild", "", "register in this guild only (overrides discord.guild_id)")
}

func syncCommands(cmd *cobra.Command, args []string) error {
	e, err := newEnv(os.Stderr, false)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.cfg.Discord.RequireCredentials(); err != nil {
		return cli.WrapConfigError(err)
	}
	guildID := e.cfg.Discord.GuildID
	if syncFlags.guildID != "" {
		guildID = syncFlags.guildID
	}

	session, err := discord.NewSession(e.cfg.Discord.Token)
	if err != nil {
		return cli.NewCommandError("sync-commands", err)
	}

	// Only the definitions are needed; no channel manager is consulted.
	commands := discord.NewCommands(nil, e.cfg.Retention.MaxDuration)
	registered, err := commands.SyncCommands(cmd.Context(), session, e.cfg.Discord.ApplicationID, guildID)
	if err != nil {
		return cli.NewCommandError("sync-commands", err)
	}

	scope := "globally"
	if guildID != "" {
		scope = "in guild " + guildID
	}
	out := cmd.OutOrStdout()
	for _, c := range registered {
		fmt.Fprintf(out, "✓ /%s\n", c.Name)
	}
	fmt.Fprintf(out, "Registered %d commands %s\n", len(registered), scope)
	return nil
}
