package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/zhubert/agentdesk/config"
	"github.com/zhubert/agentdesk/logger"
)

type rootOptions struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "agentdesk",
		Short:         "Session host for the agent desktop chat app",
		Long:          `agentdesk supervises agent CLI sessions, stores provider credentials and relays session events to the desktop UI over a local socket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config.yaml (default: platform config dir)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(
		newServeCmd(opts),
		newStatusCmd(opts),
		newWatchCmd(opts),
		newProvidersCmd(),
		newSessionsCmd(opts),
		newDoctorCmd(opts),
		newLogsCmd(),
	)
	return cmd
}

// loadConfig reads the config and applies --debug on top of it.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.debug {
		cfg.Debug = true
	}
	logger.SetDebug(cfg.Debug)
	return cfg, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
