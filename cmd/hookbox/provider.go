package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"hookbox/internal/config"
	"hookbox/internal/domain"
	"hookbox/internal/provider"
)

var (
	providerPage    int
	providerPerPage int
)

var providerCmd = &cobra.Command{
	Use:   "provider",
	Short: "Query the configured source-control provider",
}

var providerTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Check connectivity and credentials",
	Args:  cobra.NoArgs,
	RunE:  runProviderTest,
}

var providerProjectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List one page of projects",
	Args:  cobra.NoArgs,
	RunE:  runProviderProjects,
}

var providerGroupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List one page of groups",
	Args:  cobra.NoArgs,
	RunE:  runProviderGroups,
}

func init() {
	for _, c := range []*cobra.Command{providerProjectsCmd, providerGroupsCmd} {
		c.Flags().IntVar(&providerPage, "page", 1, "Page number")
		c.Flags().IntVar(&providerPerPage, "per-page", provider.DefaultPerPage, "Results per page")
	}
	providerCmd.AddCommand(providerTestCmd)
	providerCmd.AddCommand(providerProjectsCmd)
	providerCmd.AddCommand(providerGroupsCmd)
}

// providerClient builds a client from the configuration without opening storage.
func providerClient() (provider.Client, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.ProviderConfigured() {
		return nil, domain.ErrNotConfigured.Wrap(fmt.Errorf("set provider.url and provider.token in %s", config.FileName))
	}
	return provider.New(cfg.Provider)
}

func runProviderTest(cmd *cobra.Command, args []string) error {
	client, err := providerClient()
	if err != nil {
		return err
	}

	result := client.TestConnection(cmd.Context())
	out := cmd.OutOrStdout()
	if !result.Success {
		fmt.Fprintf(out, "%s %s\n", color.RedString("[FAIL]"), result.Message)
		return fmt.Errorf("provider connection failed")
	}
	fmt.Fprintf(out, "%s %s", color.GreenString("[OK]"), result.Message)
	if result.Version != "" {
		fmt.Fprintf(out, " (version %s)", result.Version)
	}
	fmt.Fprintln(out)
	return nil
}

func runProviderProjects(cmd *cobra.Command, args []string) error {
	client, err := providerClient()
	if err != nil {
		return err
	}
	projects, err := client.ListProjects(cmd.Context(), providerPage, providerPerPage)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, p := range projects {
		fmt.Fprintf(out, "%-10s %s\n", p.ID, p.PathWithNamespace)
	}
	return nil
}

func runProviderGroups(cmd *cobra.Command, args []string) error {
	client, err := providerClient()
	if err != nil {
		return err
	}
	groups, err := client.ListGroups(cmd.Context(), providerPage, providerPerPage)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, g := range groups {
		fmt.Fprintf(out, "%-10s %s\n", g.ID, g.FullPath)
	}
	return nil
}
