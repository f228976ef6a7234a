package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"hookbox/internal/deployment"
	"hookbox/internal/domain"
	"hookbox/internal/history"
)

var (
	deployHookID     int64
	deployLevel      string
	deployTargetID   string
	deployTargetName string
	deployVersionID  int64
	deployActor      string
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a hook from the command line",
	Long: `Install a hook version on the server, a project or every project of a group.

The deployment is recorded in the history exactly as if it had been
requested through the API.`,
	Example: `  hookbox deploy --hook 3 --level server
  hookbox deploy --hook 3 --level project --target-id 42 --target-name platform/api
  hookbox deploy --hook 3 --level group --target-id 7 --version-id 12`,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().Int64Var(&deployHookID, "hook", 0, "Hook id (required)")
	deployCmd.Flags().StringVar(&deployLevel, "level", string(domain.LevelServer), "Deployment level: server, project or group")
	deployCmd.Flags().StringVar(&deployTargetID, "target-id", "", "Project or group id")
	deployCmd.Flags().StringVar(&deployTargetName, "target-name", "", "Project path or group name")
	deployCmd.Flags().Int64Var(&deployVersionID, "version-id", 0, "Hook version id (latest when omitted)")
	deployCmd.Flags().StringVar(&deployActor, "actor", os.Getenv("USER"), "Name recorded as the deployer")
	deployCmd.MarkFlagRequired("hook")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, quietLogger())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := a.deployer.Deploy(ctx, deployment.Request{
		HookID:        deployHookID,
		Level:         domain.Level(deployLevel),
		TargetID:      deployTargetID,
		TargetName:    deployTargetName,
		HookVersionID: deployVersionID,
		Actor:         deployActor,
	})
	if err != nil {
		return err
	}

	printBatch(cmd.OutOrStdout(), result)
	if result.OverallStatus != deployment.OverallSuccess {
		return fmt.Errorf("deployment %s", result.OverallStatus)
	}
	return nil
}

func printBatch(out io.Writer, result *deployment.BatchResult) {
	ok := color.New(color.FgGreen).SprintFunc()
	fail := color.New(color.FgRed).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(out, "Batch %s (version %d)\n", result.BatchID, result.HookVersion)
	if result.NoTargets {
		fmt.Fprintf(out, "%s group has no projects, nothing to install\n", warn("[WARN]"))
		return
	}

	for _, d := range result.Deployments {
		endpoint := string(d.Level)
		if d.TargetName != nil && *d.TargetName != "" {
			endpoint = *d.TargetName
		} else if d.TargetID != nil {
			endpoint = *d.TargetID
		}

		if d.Status == history.StatusSuccess {
			fmt.Fprintf(out, "%-60s%s\n", endpoint, ok("[OK]"))
			continue
		}
		msg := ""
		if d.ErrorMessage != nil {
			msg = *d.ErrorMessage
		}
		fmt.Fprintf(out, "%-60s%s %s\n", endpoint, fail("[FAIL]"), msg)
	}

	succeeded, failed := result.Counts()
	summary := fmt.Sprintf("%d succeeded, %d failed", succeeded, failed)
	switch result.OverallStatus {
	case deployment.OverallSuccess:
		summary = ok(summary)
	case deployment.OverallPartial:
		summary = warn(summary)
	default:
		summary = fail(summary)
	}
	fmt.Fprintln(out, summary)
}
