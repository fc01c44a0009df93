package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir    = ".config/mcpdash"
	projectConfigDir = ".mcpdash"
	configFileName   = "config.yaml"
)

// LoadConfig loads the mcpdash configuration by layering default, user, and
// project settings.
func LoadConfig() (Config, error) {
	// 1. Start with the default configuration
	config := GetDefaultConfig()

	// 2. Layer the user-specific configuration, when present
	userConfigPath, err := getUserConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not determine user config path: %v\n", err)
	} else {
		if _, err := os.Stat(userConfigPath); !os.IsNotExist(err) {
			userConfig, err := loadConfigFromFile(userConfigPath)
			if err != nil {
				return Config{}, fmt.Errorf("error loading user config from %s: %w", userConfigPath, err)
			}
			config = mergeConfigs(config, userConfig)
		}
	}

	// 3. Layer the project-specific configuration, when present
	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not determine project config path: %v\n", err)
	} else {
		if _, err := os.Stat(projectConfigPath); !os.IsNotExist(err) {
			projectConfig, err := loadConfigFromFile(projectConfigPath)
			if err != nil {
				return Config{}, fmt.Errorf("error loading project config from %s: %w", projectConfigPath, err)
			}
			config = mergeConfigs(config, projectConfig)
		}
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

// loadConfigFromFile loads a Config from a YAML file.
func loadConfigFromFile(filePath string) (Config, error) {
	var config Config
	data, err := os.ReadFile(filePath)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", filePath, err)
	}
	return config, nil
}

// mergeConfigs overlays non-zero fields of overlay onto base.
func mergeConfigs(base, overlay Config) Config {
	merged := base

	if overlay.Backend.BaseURL != "" {
		merged.Backend.BaseURL = overlay.Backend.BaseURL
	}
	if overlay.Backend.RequestTimeoutMs > 0 {
		merged.Backend.RequestTimeoutMs = overlay.Backend.RequestTimeoutMs
	}
	if overlay.Backend.MCPEndpoint != "" {
		merged.Backend.MCPEndpoint = overlay.Backend.MCPEndpoint
	}

	if overlay.History.Path != "" {
		merged.History.Path = overlay.History.Path
	}
	if overlay.History.Bound > 0 {
		merged.History.Bound = overlay.History.Bound
	}
	if overlay.History.MaxResultBytes > 0 {
		merged.History.MaxResultBytes = overlay.History.MaxResultBytes
	}

	merged.Poll.EnvApply = mergePolicy(merged.Poll.EnvApply, overlay.Poll.EnvApply)
	merged.Poll.Control = mergePolicy(merged.Poll.Control, overlay.Poll.Control)
	merged.Poll.ToolVerify = mergePolicy(merged.Poll.ToolVerify, overlay.Poll.ToolVerify)

	if overlay.Logging.Level != "" {
		merged.Logging.Level = overlay.Logging.Level
	}
	if overlay.Logging.Format != "" {
		merged.Logging.Format = overlay.Logging.Format
	}

	return merged
}

func mergePolicy(base, overlay PollPolicy) PollPolicy {
	merged := base
	if overlay.IntervalMs > 0 {
		merged.IntervalMs = overlay.IntervalMs
	}
	if overlay.MaxAttempts > 0 {
		merged.MaxAttempts = overlay.MaxAttempts
	}
	return merged
}
