package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mcpdash/internal/api"
)

// targetCmd represents the target command
var targetCmd = &cobra.Command{
	Use:   "target",
	Short: "Manage lifecycle of managed targets",
	Long: `Manage the lifecycle of managed targets (MCP servers and LLM instances).

Available commands:
  start    - Start a target and wait for it to report running
  stop     - Stop a target and wait for it to report stopped
  restart  - Restart a target and wait for it to report running
  status   - Show the current status of a target

While an action is in flight for a target, further actions on that target
are rejected until the first one resolves.`,
}

var targetStartCmd = &cobra.Command{
	Use:   "start <target-id>",
	Short: "Start a target",
	Args:  cobra.ExactArgs(1),
	RunE:  runTargetStart,
}

var targetStopCmd = &cobra.Command{
	Use:   "stop <target-id>",
	Short: "Stop a target",
	Args:  cobra.ExactArgs(1),
	RunE:  runTargetStop,
}

var targetRestartCmd = &cobra.Command{
	Use:   "restart <target-id>",
	Short: "Restart a target",
	Args:  cobra.ExactArgs(1),
	RunE:  runTargetRestart,
}

var targetStatusCmd = &cobra.Command{
	Use:   "status <target-id>",
	Short: "Show the current status of a target",
	Args:  cobra.ExactArgs(1),
	RunE:  runTargetStatus,
}

func init() {
	rootCmd.AddCommand(targetCmd)

	targetCmd.AddCommand(targetStartCmd)
	targetCmd.AddCommand(targetStopCmd)
	targetCmd.AddCommand(targetRestartCmd)
	targetCmd.AddCommand(targetStatusCmd)
}

func runTargetStart(cmd *cobra.Command, args []string) error {
	return runControl(cmd.Context(), args[0], func(ctx context.Context, ctrl targetController, targetID string) (api.Outcome, error) {
		return ctrl.Start(ctx, targetID)
	})
}

func runTargetStop(cmd *cobra.Command, args []string) error {
	return runControl(cmd.Context(), args[0], func(ctx context.Context, ctrl targetController, targetID string) (api.Outcome, error) {
		return ctrl.Stop(ctx, targetID)
	})
}

func runTargetRestart(cmd *cobra.Command, args []string) error {
	return runControl(cmd.Context(), args[0], func(ctx context.Context, ctrl targetController, targetID string) (api.Outcome, error) {
		return ctrl.Restart(ctx, targetID)
	})
}

// targetController is the slice of the controller the target commands use.
type targetController interface {
	Start(ctx context.Context, targetID string) (api.Outcome, error)
	Stop(ctx context.Context, targetID string) (api.Outcome, error)
	Restart(ctx context.Context, targetID string) (api.Outcome, error)
}

func runControl(ctx context.Context, targetID string, action func(context.Context, targetController, string) (api.Outcome, error)) error {
	ctrl, cleanup, err := buildController(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	outcome, err := action(ctx, ctrl, targetID)
	if err != nil {
		return err
	}

	if err := printResult(outcome, func() {
		fmt.Printf("%s: %s\n", outcome.Status, outcome.Message)
	}); err != nil {
		return err
	}
	return outcomeError(outcome)
}

func runTargetStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ctrl, cleanup, err := buildController(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	status, err := ctrl.Status(ctx, args[0])
	if err != nil {
		return err
	}

	return printResult(status, func() {
		fmt.Printf("target:  %s\n", status.TargetID)
		fmt.Printf("state:   %s\n", status.State)
		if status.PID != 0 {
			fmt.Printf("pid:     %d\n", status.PID)
		}
		if status.UptimeSeconds != 0 {
			fmt.Printf("uptime:  %ds\n", status.UptimeSeconds)
		}
	})
}
