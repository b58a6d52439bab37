package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhubert/agentdesk/config"
	"github.com/zhubert/agentdesk/paths"
	"github.com/zhubert/agentdesk/session"
)

// loadRegistry reads persisted sessions without touching a running host.
func loadRegistry(cfg *config.Config) (*session.Registry, error) {
	dir, err := paths.SessionsDir()
	if err != nil {
		return nil, err
	}
	reg := session.NewRegistry(readOnlyStore{session.NewFileStore(dir)}, cfg.MaxHistoryMessages)
	if err := reg.Load(); err != nil {
		return nil, err
	}
	return reg, nil
}

// readOnlyStore drops writes so inspecting sessions never rewrites a
// running host's files.
type readOnlyStore struct {
	*session.FileStore
}

func (readOnlyStore) Save(session.Record) error { return nil }
func (readOnlyStore) Delete(string) error       { return nil }

func newSessionsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Inspect persisted sessions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List sessions, most recently updated first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := root.loadConfig()
				if err != nil {
					return err
				}
				reg, err := loadRegistry(cfg)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSTATUS\tTITLE\tCWD\tUPDATED")
				for _, info := range reg.List() {
					updated := time.UnixMilli(info.UpdatedAt).Format("2006-01-02 15:04")
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", info.ID, info.Status, info.Title, info.Cwd, updated)
				}
				return tw.Flush()
			},
		},
		&cobra.Command{
			Use:   "history <id>",
			Short: "Print a session's messages as JSON lines",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := root.loadConfig()
				if err != nil {
					return err
				}
				reg, err := loadRegistry(cfg)
				if err != nil {
					return err
				}
				messages, _, err := reg.History(args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, msg := range messages {
					fmt.Fprintln(out, string(msg))
				}
				return nil
			},
		},
		newRecentCwdsCmd(root),
	)
	return cmd
}

func newRecentCwdsCmd(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent-cwds",
		Short: "List recently used working directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			reg, err := loadRegistry(cfg)
			if err != nil {
				return err
			}
			for _, cwd := range reg.ListRecentCwds(limit) {
				fmt.Fprintln(cmd.OutOrStdout(), cwd)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", session.DefaultRecentCwds, "Maximum directories to list (1-20)")
	return cmd
}
