package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/sweeper/pkg/cli"
	"mercator-hq/sweeper/pkg/platform/discord"
	"mercator-hq/sweeper/pkg/retention"
	"mercator-hq/sweeper/pkg/retention/service"
)

var channelsFlags struct {
	name        string
	watermarkID string
}

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Administer channel retention offline",
	Long: `List, enable and disable channel retention directly against the store.

Changes made while the bot is running are picked up on its next cycle; new
channels are backfilled on the next rescan.`,
}

var channelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List channels with retention enabled",
	Args:  cobra.NoArgs,
	RunE:  listChannels,
}

var channelsEnableCmd = &cobra.Command{
	Use:   "enable <channel-id> <duration>",
	Short: "Enable retention in a channel",
	Long: `Enable retention in a channel, or change its duration.

Durations accept units from milliseconds to weeks, e.g. "90m", "1d12h" or
"2 weeks". Only messages newer than the watermark are deleted; without
--watermark-id the watermark is the current time.`,
	Args: cobra.ExactArgs(2),
	RunE: enableChannel,
}

var channelsDisableCmd = &cobra.Command{
	Use:   "disable <channel-id>",
	Short: "Disable retention in a channel",
	Long:  `Disable retention in a channel. Its pending deletions are dropped.`,
	Args:  cobra.ExactArgs(1),
	RunE:  disableChannel,
}

func init() {
	rootCmd.AddCommand(channelsCmd)
	channelsCmd.AddCommand(channelsListCmd, channelsEnableCmd, channelsDisableCmd)

	channelsEnableCmd.Flags().StringVar(&channelsFlags.name, "name", "", "channel name shown in listings")
	channelsEnableCmd.Flags().StringVar(&channelsFlags.watermarkID, "watermark-id", "", "ID of the last message to keep")
}

// channelTable renders channel summaries.
type channelTable []service.ChannelSummary

func (c channelTable) Table() cli.Table {
	t := cli.Table{Headers: []string{"CHANNEL", "NAME", "DURATION", "STALE"}}
	for _, ch := range c {
		stale := ""
		if ch.Stale && ch.StaleSince != nil {
			stale = ch.StaleSince.UTC().Format(time.RFC3339)
		}
		t.Rows = append(t.Rows, []string{ch.ChannelID, ch.ChannelName, ch.RetentionLabel, stale})
	}
	return t
}

// withService runs fn against a channel service over the configured store.
func withService(command string, fn func(e *env, svc *service.Service) error) error {
	e, err := newEnv(os.Stderr, true)
	if err != nil {
		return err
	}
	defer e.Close()

	trail := e.newAuditTrail(nil)
	defer trail.Close()

	svc, err := e.newService(retention.NewAuthorFilter(e.cfg.Retention.ExemptAutomated), trail, nil)
	if err != nil {
		return cli.NewCommandError(command, err)
	}
	if err := fn(e, svc); err != nil {
		return cli.NewCommandError(command, err)
	}
	return nil
}

func listChannels(cmd *cobra.Command, args []string) error {
	f, err := formatter()
	if err != nil {
		return err
	}
	return withService("channels list", func(e *env, svc *service.Service) error {
		channels, err := svc.ListChannels(cmd.Context())
		if err != nil {
			return err
		}
		if len(channels) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No channels have autodelete enabled.")
		}
		return f.FormatTo(cmd.OutOrStdout(), channelTable(channels))
	})
}

func enableChannel(cmd *cobra.Command, args []string) error {
	channelID, input := args[0], args[1]
	d, err := retention.ParseRetention(input)
	if err != nil {
		return cli.NewConfigError("duration", err.Error())
	}

	req := service.EnableRequest{
		ChannelID:   channelID,
		ChannelName: channelsFlags.name,
		Retention:   d,
		Label:       input,
	}
	if id := channelsFlags.watermarkID; id != "" {
		at, err := discord.SnowflakeTime(id)
		if err != nil {
			return cli.NewConfigError("--watermark-id", fmt.Sprintf("not a Discord ID: %v", err))
		}
		req.WatermarkID, req.WatermarkAt = id, at
	} else {
		now := time.Now().UTC()
		req.WatermarkID, req.WatermarkAt = discord.SnowflakeAt(now), now
	}

	return withService("channels enable", func(e *env, svc *service.Service) error {
		p, err := svc.EnableChannel(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Enabled autodelete in %s with message duration %s\n", p.ChannelID, p.RetentionLabel)
		return nil
	})
}

func disableChannel(cmd *cobra.Command, args []string) error {
	return withService("channels disable", func(e *env, svc *service.Service) error {
		if err := svc.DisableChannel(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Disabled autodelete in %s\n", args[0])
		return nil
	})
}
