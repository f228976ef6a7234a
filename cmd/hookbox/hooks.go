package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var hooksCmd = &cobra.Command{
	Use:   "hooks",
	Short: "Inspect stored hooks",
}

var hooksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List hooks with their current version",
	Args:  cobra.NoArgs,
	RunE:  runHooksList,
}

var hooksVersionsCmd = &cobra.Command{
	Use:   "versions <hook-id>",
	Short: "List the versions of a hook",
	Args:  cobra.ExactArgs(1),
	RunE:  runHooksVersions,
}

func init() {
	hooksCmd.AddCommand(hooksListCmd)
	hooksCmd.AddCommand(hooksVersionsCmd)
}

func runHooksList(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, quietLogger())
	if err != nil {
		return err
	}
	defer a.Close()

	hooks, err := a.hooks.List(cmd.Context())
	if err != nil {
		return err
	}
	counts, err := a.history.CountByHook(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(hooks) == 0 {
		fmt.Fprintln(out, "No hooks stored")
		return nil
	}

	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(out, "%s\n", bold(fmt.Sprintf("%-6s %-32s %-14s %-8s %-8s %s", "ID", "NAME", "TYPE", "FILE", "VERSION", "DEPLOYS")))
	for _, h := range hooks {
		fmt.Fprintf(out, "%-6d %-32s %-14s %-8s %-8d %d\n", h.ID, h.Name, h.HookType, h.FileType, h.CurrentVersion, counts[h.ID])
	}
	return nil
}

func runHooksVersions(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid hook id %q", args[0])
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, quietLogger())
	if err != nil {
		return err
	}
	defer a.Close()

	h, err := a.hooks.Get(cmd.Context(), id)
	if err != nil {
		return err
	}
	versions, err := a.hooks.Versions(cmd.Context(), id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s)\n", color.New(color.Bold).Sprint(h.Name), h.HookType)
	for _, v := range versions {
		fmt.Fprintf(out, "  v%-4d id=%-6d %8d bytes  sha256:%s  %s by %s\n",
			v.Version, v.ID, v.Size, v.SHA256[:12], v.CreatedAt.Format("2006-01-02 15:04"), v.CreatedBy)
	}
	return nil
}
