package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"mcpdash/internal/api"
	"mcpdash/internal/backend"
	"mcpdash/internal/config"
	"mcpdash/internal/controller"
	"mcpdash/internal/history"
	"mcpdash/pkg/logging"
)

var outputFormat string

// buildController loads configuration, initializes logging, and assembles
// the controller every subcommand talks to. The returned cleanup closes
// the history store, the backend connection, and the event bus.
func buildController(ctx context.Context) (*controller.Controller, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Init(parseLogLevel(cfg.Logging.Level), cfg.Logging.Format, os.Stderr)

	rest := backend.NewRESTClient(cfg.Backend.BaseURL,
		time.Duration(cfg.Backend.RequestTimeoutMs)*time.Millisecond)

	var be api.Backend = rest
	var mcpClient *backend.MCPCapabilityClient
	if cfg.Backend.MCPEndpoint != "" {
		mcpClient = backend.NewMCPCapabilityClient(rest, cfg.Backend.MCPEndpoint)
		be = mcpClient
	}

	store, err := history.Open(ctx, cfg.History.Path, cfg.History.Bound)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open execution history: %w", err)
	}

	ctrl := controller.New(be, store, cfg)
	cleanup := func() {
		ctrl.Close()
		store.Close()
		if mcpClient != nil {
			mcpClient.Close()
		}
	}
	return ctrl, cleanup, nil
}

func parseLogLevel(level string) logging.LogLevel {
	switch level {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// printResult renders a value as JSON or a caller-supplied plain rendering.
func printResult(value interface{}, plain func()) error {
	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(value)
	}
	plain()
	return nil
}

// outcomeError converts a non-successful outcome into a command error so
// the process exits non-zero.
func outcomeError(outcome api.Outcome) error {
	if outcome.Succeeded() {
		return nil
	}
	if outcome.Message != "" {
		return fmt.Errorf("%s: %s", outcome.Status, outcome.Message)
	}
	return fmt.Errorf("%s", outcome.Status)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "plain", "Output format (plain, json)")
}
