package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/sweeper/pkg/cli"
)

var (
	// Global flags
	cfgFile      string
	logLevel     string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "sweeper",
	Short: "Sweeper - per-channel message retention for Discord",
	Long: `Sweeper deletes Discord messages once they are older than the retention
period configured for their channel.

Deadlines are stored durably, so messages are still deleted on time after a
restart, and channel history is rescanned after downtime.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "sweeper.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format (text, json, csv)")
}

// formatter returns the formatter selected by --output.
func formatter() (cli.Formatter, error) {
	format, err := cli.ParseOutputFormat(outputFormat)
	if err != nil {
		return nil, cli.NewConfigError("--output", err.Error())
	}
	return cli.NewFormatter(format), nil
}
