package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/agentdesk/logger"
)

func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Manage host and stream logs",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "path",
			Short: "Print the host log file path",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := logger.DefaultLogPath()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), p)
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete the host log and every session stream log",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				count, err := logger.ClearLogs()
				if err != nil {
					return fmt.Errorf("failed to clear logs: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d log file(s)\n", count)
				return nil
			},
		},
	)
	return cmd
}
