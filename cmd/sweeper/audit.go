package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/sweeper/pkg/cli"
	"mercator-hq/sweeper/pkg/retention"
	"mercator-hq/sweeper/pkg/server"
)

var auditFlags struct {
	limit   int
	since   string
	cycleID string
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Print recent audit entries",
	Long: `Print audit entries, newest first.

Examples:
  # Last 100 entries
  sweeper audit

  # Everything from the last day
  sweeper audit --since 24h --limit 1000

  # One deletion cycle
  sweeper audit --cycle-id 5f0c...`,
	Args: cobra.NoArgs,
	RunE: showAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().IntVar(&auditFlags.limit, "limit", retention.DefaultAuditLimit, "maximum number of entries")
	auditCmd.Flags().StringVar(&auditFlags.since, "since", "", "only entries after this RFC 3339 time or duration ago (e.g. 24h, 2d)")
	auditCmd.Flags().StringVar(&auditFlags.cycleID, "cycle-id", "", "only entries from this cycle or scan")
}

// auditTable renders audit entries.
type auditTable []*retention.AuditEntry

func (a auditTable) Table() cli.Table {
	t := cli.Table{Headers: []string{"TIME", "CYCLE", "EVENT"}}
	for _, entry := range a {
		t.Rows = append(t.Rows, []string{entry.Timestamp, entry.CycleID, entry.Event})
	}
	return t
}

func showAudit(cmd *cobra.Command, args []string) error {
	f, err := formatter()
	if err != nil {
		return err
	}

	query := retention.AuditQuery{Limit: auditFlags.limit, CycleID: auditFlags.cycleID}
	if auditFlags.since != "" {
		since, err := server.ParseSince(auditFlags.since, time.Now())
		if err != nil {
			return cli.NewConfigError("--since", err.Error())
		}
		query.Since = since
	}

	e, err := newEnv(os.Stderr, true)
	if err != nil {
		return err
	}
	defer e.Close()

	entries, err := e.store.QueryAudit(cmd.Context(), query)
	if err != nil {
		return cli.NewCommandError("audit", err)
	}
	return f.FormatTo(cmd.OutOrStdout(), auditTable(entries))
}
