package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mcpdash/internal/api"
	"mcpdash/internal/invoke"
)

var toolArgsJSON string

// toolCmd represents the tool command
var toolCmd = &cobra.Command{
	Use:   "tool",
	Short: "List, invoke, and replay tools exposed by targets",
	Long: `Work with the tools a managed target exposes.

Available commands:
  list     - List the tools a target currently exposes
  call     - Invoke a tool on a target
  history  - Show recorded invocations of a tool
  replay   - Re-run a recorded invocation with its original arguments
  clear    - Remove recorded invocations of a tool

A new call for the same target and tool supersedes an outstanding one
instead of queueing behind it.`,
}

var toolListCmd = &cobra.Command{
	Use:   "list <target-id>",
	Short: "List the tools a target exposes",
	Args:  cobra.ExactArgs(1),
	RunE:  runToolList,
}

var toolCallCmd = &cobra.Command{
	Use:   "call <target-id> <tool> [name=value...]",
	Short: "Invoke a tool on a target",
	Long: `Invoke a tool on a target and wait for the result.

Arguments are passed as name=value pairs; values that parse as JSON are
sent typed, everything else is sent as a string. Alternatively pass the
whole argument object with --json.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runToolCall,
}

var toolHistoryCmd = &cobra.Command{
	Use:   "history <target-id> <tool>",
	Short: "Show recorded invocations of a tool, newest first",
	Args:  cobra.ExactArgs(2),
	RunE:  runToolHistory,
}

var toolReplayCmd = &cobra.Command{
	Use:   "replay <target-id> <tool> <invocation-id>",
	Short: "Re-run a recorded invocation with its original arguments",
	Args:  cobra.ExactArgs(3),
	RunE:  runToolReplay,
}

var toolClearCmd = &cobra.Command{
	Use:   "clear <target-id> <tool>",
	Short: "Remove recorded invocations of a tool",
	Args:  cobra.ExactArgs(2),
	RunE:  runToolClear,
}

func init() {
	rootCmd.AddCommand(toolCmd)

	toolCmd.AddCommand(toolListCmd)
	toolCmd.AddCommand(toolCallCmd)
	toolCmd.AddCommand(toolHistoryCmd)
	toolCmd.AddCommand(toolReplayCmd)
	toolCmd.AddCommand(toolClearCmd)

	toolCallCmd.Flags().StringVar(&toolArgsJSON, "json", "", "Arguments as a JSON object (overrides name=value pairs)")
}

func runToolList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ctrl, cleanup, err := buildController(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	capabilities, err := ctrl.Capabilities(ctx, args[0])
	if err != nil {
		return err
	}

	return printResult(capabilities, func() {
		if len(capabilities) == 0 {
			fmt.Println("no tools exposed")
			return
		}
		for _, capability := range capabilities {
			if capability.Description != "" {
				fmt.Printf("%s\t%s\n", capability.Name, capability.Description)
			} else {
				fmt.Println(capability.Name)
			}
		}
	})
}

func runToolCall(cmd *cobra.Command, args []string) error {
	invocationArgs, err := parseToolArgs(args[2:])
	if err != nil {
		return err
	}
	return callTool(cmd, args[0], args[1], invocationArgs)
}

func runToolReplay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ctrl, cleanup, err := buildController(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	recorded, found, err := ctrl.Replay(ctx, args[2])
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no recorded invocation with id %s", args[2])
	}

	return execTool(cmd, ctrl, args[0], args[1], recorded)
}

func callTool(cmd *cobra.Command, targetID, tool string, invocationArgs api.Args) error {
	ctx := cmd.Context()
	ctrl, cleanup, err := buildController(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	return execTool(cmd, ctrl, targetID, tool, invocationArgs)
}

func execTool(cmd *cobra.Command, ctrl toolRunner, targetID, tool string, invocationArgs api.Args) error {
	ctx := cmd.Context()

	handle, err := ctrl.RunCapability(ctx, targetID, tool, invocationArgs)
	if err != nil {
		return err
	}

	outcome, err := handle.Wait(ctx)
	if err != nil {
		return err
	}

	if err := printResult(outcome, func() {
		if outcome.Invocation != nil && outcome.Invocation.Result != "" {
			fmt.Println(outcome.Invocation.Result)
		} else if outcome.Message != "" {
			fmt.Printf("%s: %s\n", outcome.Status, outcome.Message)
		} else {
			fmt.Println(outcome.Status)
		}
	}); err != nil {
		return err
	}
	return outcomeError(outcome)
}

func runToolHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ctrl, cleanup, err := buildController(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	records, err := ctrl.History(ctx, args[0], args[1])
	if err != nil {
		return err
	}

	return printResult(records, func() {
		if len(records) == 0 {
			fmt.Println("no recorded invocations")
			return
		}
		for _, record := range records {
			fmt.Printf("%s\t%s\t%s\t%dms\n",
				record.ID, record.Timestamp.Format("2006-01-02 15:04:05"), record.Outcome, record.DurationMs)
		}
	})
}

func runToolClear(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ctrl, cleanup, err := buildController(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := ctrl.ClearHistory(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("cleared history for %s/%s\n", args[0], args[1])
	return nil
}

// parseToolArgs turns name=value pairs (or the --json flag) into an ordered
// argument list, preserving the order given on the command line.
func parseToolArgs(pairs []string) (api.Args, error) {
	if toolArgsJSON != "" {
		var parsed api.Args
		if err := json.Unmarshal([]byte(toolArgsJSON), &parsed); err != nil {
			return nil, fmt.Errorf("invalid --json argument object: %w", err)
		}
		return parsed, nil
	}

	var invocationArgs api.Args
	for _, pair := range pairs {
		name, raw, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("invalid argument %q, expected name=value", pair)
		}

		// Typed values (numbers, booleans, objects) pass through as JSON;
		// anything that does not parse is a plain string.
		var value interface{}
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		invocationArgs = append(invocationArgs, api.Arg{Name: name, Value: value})
	}
	return invocationArgs, nil
}

// toolRunner is the slice of the controller the tool commands use.
type toolRunner interface {
	RunCapability(ctx context.Context, targetID, capability string, args api.Args) (*invoke.Handle, error)
}
