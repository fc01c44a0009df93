package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mcpdash/internal/api"
	"mcpdash/internal/reporting"
)

// envCmd represents the env command
var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Reconfigure the environment of a target",
	Long: `Reconfigure the environment of a managed target.

Applying a change submits the diff to the backend, waits for the target's
automatic restart to complete, and verifies that its tools are available
again before reporting success. Progress is printed stage by stage.

Available commands:
  set    - Set one or more environment variables
  unset  - Remove one or more environment variables`,
}

var envSetCmd = &cobra.Command{
	Use:   "set <target-id> NAME=VALUE [NAME=VALUE...]",
	Short: "Set environment variables on a target",
	Long: `Set one or more environment variables on a target and wait for the
restart-and-verify cycle to complete.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runEnvSet,
}

var envUnsetCmd = &cobra.Command{
	Use:   "unset <target-id> NAME [NAME...]",
	Short: "Remove environment variables from a target",
	Long: `Remove one or more environment variables from a target and wait for
the restart-and-verify cycle to complete.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runEnvUnset,
}

func init() {
	rootCmd.AddCommand(envCmd)

	envCmd.AddCommand(envSetCmd)
	envCmd.AddCommand(envUnsetCmd)
}

func runEnvSet(cmd *cobra.Command, args []string) error {
	diff := api.NewEnvDiff()
	for _, pair := range args[1:] {
		name, value, found := strings.Cut(pair, "=")
		if !found {
			return fmt.Errorf("invalid assignment %q, expected NAME=VALUE", pair)
		}
		diff.Set(name, value)
	}
	return submitDiff(cmd, args[0], diff)
}

func runEnvUnset(cmd *cobra.Command, args []string) error {
	diff := api.NewEnvDiff()
	for _, name := range args[1:] {
		diff.Unset(name)
	}
	return submitDiff(cmd, args[0], diff)
}

func submitDiff(cmd *cobra.Command, targetID string, diff api.EnvDiff) error {
	ctx := cmd.Context()
	ctrl, cleanup, err := buildController(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	// Print workflow stages as they happen.
	subscription := ctrl.Bus().Subscribe(
		reporting.CombineFilters(
			reporting.FilterByType(reporting.EventTypeReconfigureStage),
			reporting.FilterByTarget(targetID),
		),
		func(e reporting.Event) {
			if stage, ok := e.(reporting.ReconfigureStageEvent); ok && outputFormat != "json" {
				fmt.Printf("  %s\n", stage.Stage)
			}
		})
	defer ctrl.Bus().Unsubscribe(subscription)

	if outputFormat != "json" {
		fmt.Printf("Applying %s to %s\n", diff, targetID)
	}

	outcome, err := ctrl.SubmitEnvDiff(ctx, targetID, diff)
	if err != nil {
		return err
	}

	if err := printResult(outcome, func() {
		fmt.Printf("%s: %s\n", outcome.Status, outcome.Message)
		if outcome.EnvApplied {
			fmt.Println("environment change applied")
		} else {
			fmt.Println("environment change not applied")
		}
	}); err != nil {
		return err
	}
	return outcomeError(outcome)
}
