package controller

import (
	"context"
	"fmt"

	"mcpdash/internal/api"
	"mcpdash/internal/config"
	"mcpdash/internal/guard"
	"mcpdash/internal/history"
	"mcpdash/internal/invoke"
	"mcpdash/internal/poller"
	"mcpdash/internal/reconfigure"
	"mcpdash/internal/reporting"
	"mcpdash/pkg/logging"
)

// Controller is the surface the presentation layer talks to. It wires the
// action guard, the reconfiguration coordinator, the invocation engine, the
// execution history, and the event bus over one backend, and turns every
// imperative operation into exactly one terminal outcome.
type Controller struct {
	backend       api.Backend
	guard         *guard.ActionGuard
	bus           *reporting.EventBus
	states        *reporting.TargetStateStore
	coordinator   *reconfigure.Coordinator
	engine        *invoke.Engine
	history       *history.Store
	controlPolicy poller.Spec
}

// New assembles a controller. store may be nil to disable history recording.
func New(backend api.Backend, store *history.Store, cfg config.Config) *Controller {
	g := guard.New()
	bus := reporting.NewEventBus()
	states := reporting.NewTargetStateStore(bus)

	return &Controller{
		backend: backend,
		guard:   g,
		bus:     bus,
		states:  states,
		coordinator: reconfigure.New(backend, g, bus, states,
			cfg.Poll.EnvApply.Spec(), cfg.Poll.ToolVerify.Spec()),
		engine:        invoke.New(backend, g, store, bus, cfg.History.MaxResultBytes),
		history:       store,
		controlPolicy: cfg.Poll.Control.Spec(),
	}
}

// Bus exposes the event bus for progress subscriptions.
func (c *Controller) Bus() *reporting.EventBus {
	return c.bus
}

// Targets exposes last-known target snapshots.
func (c *Controller) Targets() *reporting.TargetStateStore {
	return c.states
}

// Close tears down the subscriber surface.
func (c *Controller) Close() {
	c.bus.Close()
}

// Start requests a target start and waits for it to report running.
func (c *Controller) Start(ctx context.Context, targetID string) (api.Outcome, error) {
	return c.control(ctx, targetID, api.ActionStarting, api.ControlStart, api.StateRunning)
}

// Stop requests a target stop and waits for it to report stopped.
func (c *Controller) Stop(ctx context.Context, targetID string) (api.Outcome, error) {
	return c.control(ctx, targetID, api.ActionStopping, api.ControlStop, api.StateStopped)
}

// Restart requests a restart and waits for the target to report running
// again.
func (c *Controller) Restart(ctx context.Context, targetID string) (api.Outcome, error) {
	return c.control(ctx, targetID, api.ActionRestarting, api.ControlRestart, api.StateRunning)
}

func (c *Controller) control(ctx context.Context, targetID string, kind api.ActionKind, verb api.ControlVerb, goal api.TargetState) (api.Outcome, error) {
	if targetID == "" {
		return api.Outcome{}, &api.ValidationError{Field: "targetID", Reason: "must not be empty"}
	}

	token, err := c.guard.Acquire(targetID, kind)
	if err != nil {
		return api.Outcome{}, err
	}
	defer c.guard.Release(token)

	correlationID := reporting.GenerateCorrelationID()
	c.bus.Publish(reporting.NewActionStartedEvent(targetID, kind, correlationID))
	logging.Info("Controller", "Requesting %s for %s", verb, targetID)

	if err := c.backend.ControlAction(ctx, targetID, verb); err != nil {
		if api.IsCancelled(err) {
			return c.complete(targetID, kind, correlationID, api.Outcome{Status: api.OutcomeCancelled}), nil
		}
		return c.complete(targetID, kind, correlationID, api.Outcome{
			Status:  api.OutcomeFailed,
			Message: err.Error(),
		}), nil
	}

	report, err := poller.Await(ctx, c.controlPolicy,
		func(ctx context.Context) (api.TargetStatus, error) {
			status, err := c.backend.FetchStatus(ctx, targetID)
			if err == nil {
				c.states.Observe(status)
			}
			return status, err
		},
		func(status api.TargetStatus) bool {
			return status.State == goal
		})
	if err != nil {
		return c.complete(targetID, kind, correlationID, api.Outcome{
			Status:  api.OutcomeFailed,
			Message: err.Error(),
		}), nil
	}

	switch report.Result {
	case poller.Cancelled:
		return c.complete(targetID, kind, correlationID, api.Outcome{Status: api.OutcomeCancelled}), nil
	case poller.TimedOut:
		return c.complete(targetID, kind, correlationID, api.Outcome{
			Status:  api.OutcomeTimeout,
			Message: fmt.Sprintf("target %s did not report %s within %s", targetID, goal, c.controlPolicy.Ceiling()),
		}), nil
	}

	return c.complete(targetID, kind, correlationID, api.Outcome{
		Status:  api.OutcomeSuccess,
		Message: fmt.Sprintf("target %s is %s", targetID, goal),
	}), nil
}

func (c *Controller) complete(targetID string, kind api.ActionKind, correlationID string, outcome api.Outcome) api.Outcome {
	c.bus.Publish(reporting.NewActionCompletedEvent(targetID, kind, correlationID, outcome))
	return outcome
}

// SubmitEnvDiff runs the apply-env, await-restart, verify-tools workflow.
func (c *Controller) SubmitEnvDiff(ctx context.Context, targetID string, diff api.EnvDiff) (api.Outcome, error) {
	return c.coordinator.Submit(ctx, targetID, diff)
}

// RunCapability starts a tool invocation, superseding an outstanding one
// for the same session.
func (c *Controller) RunCapability(ctx context.Context, targetID, capability string, args api.Args) (*invoke.Handle, error) {
	return c.engine.Execute(ctx, targetID, capability, args)
}

// Status fetches and records the current status of a target.
func (c *Controller) Status(ctx context.Context, targetID string) (api.TargetStatus, error) {
	status, err := c.backend.FetchStatus(ctx, targetID)
	if err != nil {
		return api.TargetStatus{}, err
	}
	c.states.Observe(status)
	return status, nil
}

// Capabilities lists the tools a target currently exposes.
func (c *Controller) Capabilities(ctx context.Context, targetID string) ([]api.Capability, error) {
	return c.backend.ListCapabilities(ctx, targetID)
}

// History returns recorded invocations for a (target, capability) key,
// newest first.
func (c *Controller) History(ctx context.Context, targetID, capability string) ([]api.Invocation, error) {
	if c.history == nil {
		return nil, nil
	}
	return c.history.List(ctx, targetID, capability)
}

// Replay returns the argument snapshot of a recorded invocation for form
// repopulation. Absence is reported via ok, not an error.
func (c *Controller) Replay(ctx context.Context, invocationID string) (api.Args, bool, error) {
	if c.history == nil {
		return nil, false, nil
	}
	return c.history.LoadForReplay(ctx, invocationID)
}

// ClearHistory removes all records for a (target, capability) key.
func (c *Controller) ClearHistory(ctx context.Context, targetID, capability string) error {
	if c.history == nil {
		return nil
	}
	return c.history.Clear(ctx, targetID, capability)
}
