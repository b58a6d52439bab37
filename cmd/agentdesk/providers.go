package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zhubert/agentdesk/apperr"
	"github.com/zhubert/agentdesk/credstore"
	"github.com/zhubert/agentdesk/provider"
)

// openStore is replaced in tests to avoid the OS keychain.
var openStore = credstore.Open

func maskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}

func newProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "providers",
		Aliases: []string{"provider"},
		Short:   "Manage model providers",
	}
	cmd.AddCommand(
		newProvidersListCmd(),
		newProvidersGetCmd(),
		newProvidersSaveCmd(),
		newProvidersDeleteCmd(),
	)
	return cmd
}

func newProvidersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List built-in and saved providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tBASE URL\tTOKEN\tSOURCE")
			for _, p := range provider.Merge(store.Load()) {
				source := "saved"
				if provider.IsDefault(p.ID) {
					source = "built-in"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.BaseURL, maskToken(p.AuthToken), source)
			}
			return tw.Flush()
		},
	}
}

func newProvidersGetCmd() *cobra.Command {
	var showToken bool
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print one provider as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			p, ok := provider.Find(provider.Merge(store.Load()), args[0])
			if !ok {
				return apperr.Newf(apperr.CodeNotFound, "provider %s not found", args[0])
			}
			if !showToken {
				p.AuthToken = maskToken(p.AuthToken)
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
	cmd.Flags().BoolVar(&showToken, "show-token", false, "Print the auth token in clear text")
	return cmd
}

func newProvidersSaveCmd() *cobra.Command {
	var (
		p      provider.Config
		models provider.Models
	)
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create or update a provider",
		Long: `Create a provider, or update one when --id names an existing entry.
Flags left unset keep their stored values on update.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			if models != (provider.Models{}) {
				p.Models = &models
			}
			saved, err := store.Save(p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved provider %s (%s)\n", saved.ID, saved.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&p.ID, "id", "", "Provider id (generated when empty)")
	cmd.Flags().StringVar(&p.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&p.BaseURL, "base-url", "", "API base URL")
	cmd.Flags().StringVar(&p.AuthToken, "auth-token", "", "API auth token")
	cmd.Flags().StringVar(&p.DefaultModel, "model", "", "Default model")
	cmd.Flags().StringVar(&models.Opus, "opus", "", "Model used for the opus tier")
	cmd.Flags().StringVar(&models.Sonnet, "sonnet", "", "Model used for the sonnet tier")
	cmd.Flags().StringVar(&models.Haiku, "haiku", "", "Model used for the haiku tier")
	return cmd
}

func newProvidersDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a saved provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			removed, err := store.Delete(args[0])
			if err != nil {
				return err
			}
			if !removed {
				return apperr.Newf(apperr.CodeNotFound, "provider %s not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted provider %s\n", args[0])
			return nil
		},
	}
}
