package config

import (
	"time"

	"mcpdash/internal/api"
	"mcpdash/internal/poller"
)

// PollPolicy bounds one class of lifecycle polling. Values are explicit and
// finite; an all-zero policy is invalid.
type PollPolicy struct {
	IntervalMs  int `yaml:"intervalMs" json:"intervalMs"`
	MaxAttempts int `yaml:"maxAttempts" json:"maxAttempts"`
}

// Spec converts the policy into a poller spec.
func (p PollPolicy) Spec() poller.Spec {
	return poller.Spec{
		Interval:    time.Duration(p.IntervalMs) * time.Millisecond,
		MaxAttempts: p.MaxAttempts,
	}
}

// Validate rejects unbounded policies.
func (p PollPolicy) Validate() error {
	return p.Spec().Validate()
}

// PollPolicies carries one policy per operation class. Env-apply restart
// windows and plain start/stop windows differ on real backends, so they are
// tuned independently.
type PollPolicies struct {
	// EnvApply bounds the await-restart stage after an env diff.
	EnvApply PollPolicy `yaml:"envApply" json:"envApply"`
	// Control bounds start/stop/restart confirmation polling.
	Control PollPolicy `yaml:"control" json:"control"`
	// ToolVerify bounds capability re-discovery polling.
	ToolVerify PollPolicy `yaml:"toolVerify" json:"toolVerify"`
}

// BackendConfig locates the REST backend and the optional direct MCP
// capability endpoint.
type BackendConfig struct {
	BaseURL          string `yaml:"baseURL" json:"baseURL"`
	RequestTimeoutMs int    `yaml:"requestTimeoutMs" json:"requestTimeoutMs"`
	// MCPEndpoint, when set, routes capability listing and invocation over
	// the MCP protocol instead of the REST facade.
	MCPEndpoint string `yaml:"mcpEndpoint,omitempty" json:"mcpEndpoint,omitempty"`
}

// HistoryConfig configures the durable execution history.
type HistoryConfig struct {
	Path           string `yaml:"path" json:"path"`
	Bound          int    `yaml:"bound" json:"bound"`
	MaxResultBytes int    `yaml:"maxResultBytes" json:"maxResultBytes"`
}

// LoggingConfig configures the ambient logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Config is the full mcpdash configuration.
type Config struct {
	Backend BackendConfig `yaml:"backend" json:"backend"`
	History HistoryConfig `yaml:"history" json:"history"`
	Poll    PollPolicies  `yaml:"poll" json:"poll"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// Validate checks the loaded configuration before any component uses it.
func (c Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return &api.ValidationError{Field: "backend.baseURL", Reason: "must not be empty"}
	}
	if c.History.Bound < 1 {
		return &api.ValidationError{Field: "history.bound", Reason: "must be at least 1"}
	}
	if c.History.MaxResultBytes < 1 {
		return &api.ValidationError{Field: "history.maxResultBytes", Reason: "must be at least 1"}
	}
	if err := c.Poll.EnvApply.Validate(); err != nil {
		return err
	}
	if err := c.Poll.Control.Validate(); err != nil {
		return err
	}
	return c.Poll.ToolVerify.Validate()
}
