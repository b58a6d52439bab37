package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zhubert/agentdesk/claude"
	"github.com/zhubert/agentdesk/cli"
	pexec "github.com/zhubert/agentdesk/exec"
	"github.com/zhubert/agentdesk/paths"
)

func newDoctorCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that the agent CLI and its runtime can be found",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			// Resolve with the same PATH the agent process will see
			env := claude.BuildEnv(os.Environ(), nil, cfg.ExtraPath)
			pathEnv, _ := claude.LookupEnv(env, "PATH")

			results := cli.CheckAll(cmd.Context(), pexec.NewRealExecutor(), cli.Prerequisites(cfg.ClaudePath, cfg.NodePath), pathEnv)
			fmt.Fprint(out, cli.FormatCheckResults(results))

			if dir, err := paths.DataDir(); err == nil {
				fmt.Fprintf(out, "\nData directory: %s\n", dir)
			}
			if cfg.FilePath() != "" {
				fmt.Fprintf(out, "Config file:    %s\n", cfg.FilePath())
			}
			fmt.Fprintf(out, "Socket:         %s\n", cfg.SocketPath)

			return cli.MissingRequired(results)
		},
	}
}
