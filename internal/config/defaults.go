package config

import (
	"os"
	"path/filepath"
)

// GetDefaultConfig returns the built-in configuration, which user and
// project files then layer over.
func GetDefaultConfig() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:          "http://localhost:8700",
			RequestTimeoutMs: 10000,
		},
		History: HistoryConfig{
			Path:           defaultHistoryPath(),
			Bound:          20,
			MaxResultBytes: 8192,
		},
		Poll: PollPolicies{
			// Restart windows after an env apply are longer than plain
			// control confirmations; tool re-discovery follows its own clock.
			EnvApply:   PollPolicy{IntervalMs: 2000, MaxAttempts: 3},
			Control:    PollPolicy{IntervalMs: 1000, MaxAttempts: 10},
			ToolVerify: PollPolicy{IntervalMs: 2000, MaxAttempts: 3},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func defaultHistoryPath() string {
	home, err := osUserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "mcpdash", "history.db")
	}
	return filepath.Join(home, ".local", "share", "mcpdash", "history.db")
}
