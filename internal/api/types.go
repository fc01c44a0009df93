package api

import (
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// Common enums and types shared across all mcpdash components

// TargetState represents the last-known lifecycle state of a managed target.
type TargetState string

const (
	StateStopped    TargetState = "stopped"
	StateStarting   TargetState = "starting"
	StateRunning    TargetState = "running"
	StateStopping   TargetState = "stopping"
	StateRestarting TargetState = "restarting"
	StateFailed     TargetState = "failed"
)

// String makes TargetState satisfy the fmt.Stringer interface.
func (s TargetState) String() string {
	return string(s)
}

// ActionKind identifies the kind of control action currently in flight for a
// target. It is a closed enumeration so that no ambiguous action state can be
// constructed from arbitrary strings.
type ActionKind string

const (
	ActionStarting      ActionKind = "starting"
	ActionStopping      ActionKind = "stopping"
	ActionRestarting    ActionKind = "restarting"
	ActionReconfiguring ActionKind = "reconfiguring"
	ActionInvoking      ActionKind = "invoking"
)

// String makes ActionKind satisfy the fmt.Stringer interface.
func (k ActionKind) String() string {
	return string(k)
}

// Valid reports whether k is one of the closed set of action kinds.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionStarting, ActionStopping, ActionRestarting, ActionReconfiguring, ActionInvoking:
		return true
	}
	return false
}

// ControlVerb is the subset of actions the backend accepts directly.
type ControlVerb string

const (
	ControlStart   ControlVerb = "start"
	ControlStop    ControlVerb = "stop"
	ControlRestart ControlVerb = "restart"
)

// TargetStatus is the status snapshot the backend reports for a target.
type TargetStatus struct {
	TargetID      string      `json:"target_id"`
	State         TargetState `json:"state"`
	PID           int         `json:"pid,omitempty"`
	UptimeSeconds int64       `json:"uptime_seconds,omitempty"`
}

// Capability describes a named, schema-described operation a target exposes.
type Capability struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
}

// CapabilityFromTool converts an MCP tool definition into a Capability.
func CapabilityFromTool(tool mcp.Tool) Capability {
	schema := map[string]interface{}{
		"type": tool.InputSchema.Type,
	}
	if len(tool.InputSchema.Properties) > 0 {
		schema["properties"] = tool.InputSchema.Properties
	}
	if len(tool.InputSchema.Required) > 0 {
		schema["required"] = tool.InputSchema.Required
	}
	return Capability{
		Name:        tool.Name,
		Description: tool.Description,
		InputSchema: schema,
	}
}

// InvocationOutcome classifies how a capability invocation ended.
type InvocationOutcome string

const (
	InvocationSuccess   InvocationOutcome = "success"
	InvocationFailure   InvocationOutcome = "failure"
	InvocationCancelled InvocationOutcome = "cancelled"
)

// Invocation is one recorded capability invocation. Cancelled invocations are
// never persisted; they only appear as in-memory results.
type Invocation struct {
	ID         string            `json:"id"`
	TargetID   string            `json:"target_id"`
	Capability string            `json:"capability"`
	Args       Args              `json:"args"`
	Timestamp  time.Time         `json:"timestamp"`
	Outcome    InvocationOutcome `json:"outcome"`
	Result     string            `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	DurationMs int64             `json:"duration_ms"`
}

// OutcomeStatus is the terminal status of a user-initiated operation. Every
// operation resolves to exactly one of these.
type OutcomeStatus string

const (
	OutcomeSuccess     OutcomeStatus = "success"
	OutcomeWithWarning OutcomeStatus = "success_with_warning"
	OutcomeFailed      OutcomeStatus = "failed"
	OutcomeTimeout     OutcomeStatus = "timeout"
	OutcomeCancelled   OutcomeStatus = "cancelled"
)

// Outcome is the terminal result handed back to the presentation layer.
type Outcome struct {
	Status  OutcomeStatus `json:"status"`
	Message string        `json:"message,omitempty"`

	// EnvApplied reports whether an environment diff is considered applied
	// server-side. It can be true even for a timeout outcome: the backend
	// acknowledged the diff before the restart window expired.
	EnvApplied bool `json:"env_applied,omitempty"`

	// Invocation carries the finalized record for capability runs.
	Invocation *Invocation `json:"invocation,omitempty"`
}

// Succeeded reports whether the outcome is a full or partial success.
func (o Outcome) Succeeded() bool {
	return o.Status == OutcomeSuccess || o.Status == OutcomeWithWarning
}
