package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/sweeper/pkg/cli"
	"mercator-hq/sweeper/pkg/server"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending deletions and channel counts",
	Long: `Show what the store holds: pending messages, the next deadline and the
number of channels under retention. For a running bot's live state, query
its ops server at /v1/status.`,
	Args: cobra.NoArgs,
	RunE: showStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// statusView renders a store status.
type statusView server.Status

func (s statusView) Table() cli.Table {
	next := "none"
	if s.NextDeadline != nil {
		next = s.NextDeadline.UTC().Format(time.RFC3339)
	}
	return cli.Table{
		Headers: []string{"PENDING", "NEXT DEADLINE", "CHANNELS", "STALE"},
		Rows: [][]string{{
			strconv.FormatInt(s.Pending, 10),
			next,
			strconv.Itoa(s.Channels),
			strconv.Itoa(s.StaleChannels),
		}},
	}
}

func showStatus(cmd *cobra.Command, args []string) error {
	f, err := formatter()
	if err != nil {
		return err
	}

	e, err := newEnv(os.Stderr, true)
	if err != nil {
		return err
	}
	defer e.Close()

	st, err := server.StoreStatus(cmd.Context(), e.store)
	if err != nil {
		return cli.NewCommandError("status", fmt.Errorf("failed to read store status: %w", err))
	}
	return f.FormatTo(cmd.OutOrStdout(), statusView(st))
}
