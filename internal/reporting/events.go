package reporting

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"mcpdash/internal/api"
)

// EventType defines the type of event
type EventType string

const (
	// Target lifecycle events
	EventTypeTargetStateChanged EventType = "target.state_changed"

	// Control action events
	EventTypeActionStarted   EventType = "action.started"
	EventTypeActionCompleted EventType = "action.completed"

	// Env reconfiguration stage transitions
	EventTypeReconfigureStage EventType = "reconfigure.stage"

	// Capability invocation events
	EventTypeInvocationStarted    EventType = "invocation.started"
	EventTypeInvocationFinished   EventType = "invocation.finished"
	EventTypeInvocationSuperseded EventType = "invocation.superseded"
)

// Event is the interface all published events satisfy.
type Event interface {
	// Type returns the event type
	Type() EventType

	// TargetID returns the target the event concerns
	TargetID() string

	// Timestamp returns when the event occurred
	Timestamp() time.Time

	// CorrelationID ties together events of one logical operation
	CorrelationID() string

	// String returns a human-readable description of the event
	String() string
}

// GenerateCorrelationID returns a fresh id for tracing one logical operation
// across its events.
func GenerateCorrelationID() string {
	return uuid.NewString()
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	EventType     EventType `json:"type"`
	Target        string    `json:"target_id"`
	EventTime     time.Time `json:"timestamp"`
	CorrelationId string    `json:"correlation_id"`
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) TargetID() string     { return e.Target }
func (e BaseEvent) Timestamp() time.Time { return e.EventTime }
func (e BaseEvent) CorrelationID() string {
	return e.CorrelationId
}

func (e BaseEvent) String() string {
	return string(e.EventType) + " for " + e.Target
}

func newBaseEvent(eventType EventType, targetID, correlationID string) BaseEvent {
	if correlationID == "" {
		correlationID = GenerateCorrelationID()
	}
	return BaseEvent{
		EventType:     eventType,
		Target:        targetID,
		EventTime:     time.Now(),
		CorrelationId: correlationID,
	}
}

// TargetStateEvent reports an observed lifecycle state change.
type TargetStateEvent struct {
	BaseEvent
	OldState api.TargetState `json:"old_state"`
	NewState api.TargetState `json:"new_state"`
	PID      int             `json:"pid,omitempty"`
}

// String returns a human-readable description
func (e TargetStateEvent) String() string {
	return fmt.Sprintf("%s: %s -> %s", e.Target, e.OldState, e.NewState)
}

// NewTargetStateEvent creates a target state change event.
func NewTargetStateEvent(targetID string, oldState, newState api.TargetState, pid int) TargetStateEvent {
	return TargetStateEvent{
		BaseEvent: newBaseEvent(EventTypeTargetStateChanged, targetID, ""),
		OldState:  oldState,
		NewState:  newState,
		PID:       pid,
	}
}

// ActionEvent reports the start or terminal completion of a control action.
type ActionEvent struct {
	BaseEvent
	Kind    api.ActionKind `json:"kind"`
	Outcome *api.Outcome   `json:"outcome,omitempty"`
}

// String returns a human-readable description
func (e ActionEvent) String() string {
	if e.Outcome != nil {
		return fmt.Sprintf("%s %s: %s", e.Kind, e.Target, e.Outcome.Status)
	}
	return fmt.Sprintf("%s %s: started", e.Kind, e.Target)
}

// NewActionStartedEvent creates an action start event.
func NewActionStartedEvent(targetID string, kind api.ActionKind, correlationID string) ActionEvent {
	return ActionEvent{
		BaseEvent: newBaseEvent(EventTypeActionStarted, targetID, correlationID),
		Kind:      kind,
	}
}

// NewActionCompletedEvent creates a terminal action event.
func NewActionCompletedEvent(targetID string, kind api.ActionKind, correlationID string, outcome api.Outcome) ActionEvent {
	return ActionEvent{
		BaseEvent: newBaseEvent(EventTypeActionCompleted, targetID, correlationID),
		Kind:      kind,
		Outcome:   &outcome,
	}
}

// ReconfigureStageEvent reports a stage transition of the env
// reconfiguration workflow.
type ReconfigureStageEvent struct {
	BaseEvent
	Stage string `json:"stage"`
}

// String returns a human-readable description
func (e ReconfigureStageEvent) String() string {
	return fmt.Sprintf("reconfigure %s: %s", e.Target, e.Stage)
}

// NewReconfigureStageEvent creates a stage transition event.
func NewReconfigureStageEvent(targetID, correlationID, stage string) ReconfigureStageEvent {
	return ReconfigureStageEvent{
		BaseEvent: newBaseEvent(EventTypeReconfigureStage, targetID, correlationID),
		Stage:     stage,
	}
}

// InvocationEvent reports capability invocation progress.
type InvocationEvent struct {
	BaseEvent
	InvocationID string `json:"invocation_id"`
	Capability   string `json:"capability"`
	Generation   uint64 `json:"generation"`
	Outcome      string `json:"outcome,omitempty"`
}

// String returns a human-readable description
func (e InvocationEvent) String() string {
	if e.Outcome != "" {
		return fmt.Sprintf("%s/%s invocation %s: %s", e.Target, e.Capability, e.InvocationID, e.Outcome)
	}
	return fmt.Sprintf("%s/%s invocation %s: %s", e.Target, e.Capability, e.InvocationID, e.EventType)
}

// NewInvocationEvent creates an invocation lifecycle event.
func NewInvocationEvent(eventType EventType, targetID, capability, invocationID string, generation uint64, outcome string) InvocationEvent {
	return InvocationEvent{
		BaseEvent:    newBaseEvent(eventType, targetID, invocationID),
		InvocationID: invocationID,
		Capability:   capability,
		Generation:   generation,
		Outcome:      outcome,
	}
}
