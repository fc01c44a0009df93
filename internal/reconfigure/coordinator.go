package reconfigure

import (
	"context"
	"fmt"

	"mcpdash/internal/api"
	"mcpdash/internal/guard"
	"mcpdash/internal/poller"
	"mcpdash/internal/reporting"
	"mcpdash/pkg/logging"
)

// Stage names published on the event bus while a submit is in flight.
const (
	StageSubmitting      = "submitting"
	StageAwaitingRestart = "awaiting_restart"
	StageVerifyingTools  = "verifying_tools"
	StageDone            = "done"
)

// Coordinator drives the apply-env, await-restart, verify-tools workflow.
// Each Submit holds the target's action lock for its whole duration and
// resolves to exactly one terminal outcome; it is never abandoned between
// stages.
type Coordinator struct {
	backend       api.Backend
	guard         *guard.ActionGuard
	bus           *reporting.EventBus
	states        *reporting.TargetStateStore
	restartPolicy poller.Spec
	verifyPolicy  poller.Spec
}

// New creates a coordinator. bus and states may be nil when no subscriber
// surface is needed.
func New(backend api.Backend, g *guard.ActionGuard, bus *reporting.EventBus, states *reporting.TargetStateStore, restartPolicy, verifyPolicy poller.Spec) *Coordinator {
	return &Coordinator{
		backend:       backend,
		guard:         g,
		bus:           bus,
		states:        states,
		restartPolicy: restartPolicy,
		verifyPolicy:  verifyPolicy,
	}
}

// Submit applies an environment diff to a target and follows the backend
// through its autonomous restart and capability re-discovery. Guard
// rejections and validation failures return synchronously as errors with no
// side effects; everything after lock acquisition resolves as an Outcome.
//
// Policy note: once the backend has acknowledged the diff, the env values
// are treated as applied even if restart confirmation never arrives within
// the polling window. A timeout outcome therefore still reports
// EnvApplied=true; only a rejected UpdateEnv reports a non-applied diff.
func (c *Coordinator) Submit(ctx context.Context, targetID string, diff api.EnvDiff) (api.Outcome, error) {
	if targetID == "" {
		return api.Outcome{}, &api.ValidationError{Field: "targetID", Reason: "must not be empty"}
	}
	if err := diff.Validate(); err != nil {
		return api.Outcome{}, err
	}

	token, err := c.guard.Acquire(targetID, api.ActionReconfiguring)
	if err != nil {
		return api.Outcome{}, err
	}
	defer c.guard.Release(token)

	correlationID := reporting.GenerateCorrelationID()
	c.publishStart(targetID, correlationID)
	logging.Info("Reconfigure", "Submitting env diff for %s: %s", targetID, diff)

	// Submitting: the backend applies the diff atomically or rejects it.
	c.publishStage(targetID, correlationID, StageSubmitting)
	if err := c.backend.UpdateEnv(ctx, targetID, diff); err != nil {
		if api.IsCancelled(err) {
			return c.finish(targetID, correlationID, api.Outcome{
				Status: api.OutcomeCancelled,
			}), nil
		}
		return c.finish(targetID, correlationID, api.Outcome{
			Status:  api.OutcomeFailed,
			Message: err.Error(),
		}), nil
	}

	// AwaitingRestart: the backend restarts on its own schedule; poll until
	// the target reports running again.
	c.publishStage(targetID, correlationID, StageAwaitingRestart)
	statusReport, err := poller.Await(ctx, c.restartPolicy,
		func(ctx context.Context) (api.TargetStatus, error) {
			status, err := c.backend.FetchStatus(ctx, targetID)
			if err == nil && c.states != nil {
				c.states.Observe(status)
			}
			return status, err
		},
		func(status api.TargetStatus) bool {
			return status.State == api.StateRunning
		})
	if err != nil {
		return c.finish(targetID, correlationID, api.Outcome{
			Status:     api.OutcomeFailed,
			Message:    err.Error(),
			EnvApplied: true,
		}), nil
	}
	switch statusReport.Result {
	case poller.Cancelled:
		return c.finish(targetID, correlationID, api.Outcome{
			Status:     api.OutcomeCancelled,
			EnvApplied: true,
		}), nil
	case poller.TimedOut:
		return c.finish(targetID, correlationID, api.Outcome{
			Status:     api.OutcomeTimeout,
			Message:    fmt.Sprintf("target %s did not report running within %s", targetID, c.restartPolicy.Ceiling()),
			EnvApplied: true,
		}), nil
	}

	// VerifyingTools: after a restart the capability list repopulates at an
	// unknown time; an empty list at the deadline is a warning, not a
	// failure.
	c.publishStage(targetID, correlationID, StageVerifyingTools)
	toolsReport, err := poller.Await(ctx, c.verifyPolicy,
		func(ctx context.Context) ([]api.Capability, error) {
			return c.backend.ListCapabilities(ctx, targetID)
		},
		func(capabilities []api.Capability) bool {
			return len(capabilities) > 0
		})
	if err != nil {
		return c.finish(targetID, correlationID, api.Outcome{
			Status:     api.OutcomeFailed,
			Message:    err.Error(),
			EnvApplied: true,
		}), nil
	}
	switch toolsReport.Result {
	case poller.Cancelled:
		return c.finish(targetID, correlationID, api.Outcome{
			Status:     api.OutcomeCancelled,
			EnvApplied: true,
		}), nil
	case poller.TimedOut:
		return c.finish(targetID, correlationID, api.Outcome{
			Status:     api.OutcomeWithWarning,
			Message:    "env applied and target restarted, but the capability list has not repopulated yet",
			EnvApplied: true,
		}), nil
	}

	logging.Info("Reconfigure", "Env diff applied to %s, %d capabilities discovered", targetID, len(toolsReport.Value))
	return c.finish(targetID, correlationID, api.Outcome{
		Status:     api.OutcomeSuccess,
		Message:    fmt.Sprintf("%d capabilities discovered", len(toolsReport.Value)),
		EnvApplied: true,
	}), nil
}

func (c *Coordinator) publishStart(targetID, correlationID string) {
	if c.bus != nil {
		c.bus.Publish(reporting.NewActionStartedEvent(targetID, api.ActionReconfiguring, correlationID))
	}
}

func (c *Coordinator) publishStage(targetID, correlationID, stage string) {
	logging.Debug("Reconfigure", "Target %s entering stage %s", targetID, stage)
	if c.bus != nil {
		c.bus.Publish(reporting.NewReconfigureStageEvent(targetID, correlationID, stage))
	}
}

// finish publishes the terminal stage and completion event exactly once per
// Submit and hands the outcome back unchanged.
func (c *Coordinator) finish(targetID, correlationID string, outcome api.Outcome) api.Outcome {
	c.publishStage(targetID, correlationID, StageDone+":"+string(outcome.Status))
	if c.bus != nil {
		c.bus.Publish(reporting.NewActionCompletedEvent(targetID, api.ActionReconfiguring, correlationID, outcome))
	}
	if outcome.Status == api.OutcomeFailed || outcome.Status == api.OutcomeTimeout {
		logging.Warn("Reconfigure", "Submit for %s finished %s: %s", targetID, outcome.Status, outcome.Message)
	}
	return outcome
}
