package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/agentdesk/ipc"
)

func newWatchCmd(root *rootOptions) *cobra.Command {
	var withStats bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print host events as JSON lines",
		Long:  `Connect to a running host and print every event it broadcasts, one JSON object per line. Resource statistics are hidden unless --stats is given.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			conn, err := ipc.NewClient(cfg.SocketPath).Connect(cmd.Context())
			if err != nil {
				return err
			}
			stop := context.AfterFunc(cmd.Context(), func() { conn.Close() })
			defer func() {
				if stop() {
					conn.Close()
				}
			}()

			if err := conn.Send(ipc.ClientSessionList, nil); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for {
				ev, err := conn.Receive()
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return fmt.Errorf("connection closed: %w", err)
				}
				if ev.Type == ipc.EventStatistics && !withStats {
					continue
				}
				line, err := json.Marshal(ev)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(line))
			}
		},
	}
	cmd.Flags().BoolVar(&withStats, "stats", false, "Include resource statistics events")
	return cmd
}
