package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhubert/agentdesk/ipc"
	"github.com/zhubert/agentdesk/paths"
	"github.com/zhubert/agentdesk/process"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the host is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			pidPath, err := paths.HostPidFilePath()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			running, pid, err := process.IsRunning(pidPath)
			if err != nil {
				return err
			}
			if !running {
				fmt.Fprintln(out, "agentdesk is not running")
				return nil
			}
			fmt.Fprintf(out, "agentdesk is running (PID %d)\n", pid)

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
			defer cancel()
			if err := ipc.NewClient(cfg.SocketPath).Health(ctx); err != nil {
				fmt.Fprintf(out, "  socket %s: not answering (%v)\n", cfg.SocketPath, err)
				return nil
			}
			fmt.Fprintf(out, "  socket %s: ok\n", cfg.SocketPath)
			return nil
		},
	}
}
