package api

import "context"

// Backend is the collaborator contract this layer consumes. The concrete
// protocol behind it is out of scope; implementations translate these calls
// into REST or MCP traffic. Every call honors context cancellation.
type Backend interface {
	// FetchStatus returns the current lifecycle status of a target.
	FetchStatus(ctx context.Context, targetID string) (TargetStatus, error)

	// UpdateEnv submits an environment diff. The backend applies the diff
	// atomically and autonomously restarts the target afterwards.
	UpdateEnv(ctx context.Context, targetID string, diff EnvDiff) error

	// ListCapabilities returns the tools the target currently exposes. The
	// list is empty while the target is still re-discovering after a restart.
	ListCapabilities(ctx context.Context, targetID string) ([]Capability, error)

	// InvokeCapability runs a single tool invocation. Cancelling the context
	// aborts the call.
	InvokeCapability(ctx context.Context, targetID, capability string, args map[string]interface{}) (string, error)

	// ControlAction requests a start, stop, or restart.
	ControlAction(ctx context.Context, targetID string, verb ControlVerb) error
}
