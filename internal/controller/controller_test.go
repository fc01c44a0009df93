package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpdash/internal/api"
	"mcpdash/internal/config"
	"mcpdash/internal/reporting"
)

// scriptedBackend serves canned statuses and records control verbs.
type scriptedBackend struct {
	mu sync.Mutex

	statusScript []api.TargetState
	statusCalls  int
	controlErr   error
	verbs        []api.ControlVerb
	capabilities []api.Capability
}

func (b *scriptedBackend) FetchStatus(ctx context.Context, targetID string) (api.TargetStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.statusCalls
	if idx >= len(b.statusScript) {
		idx = len(b.statusScript) - 1
	}
	b.statusCalls++
	return api.TargetStatus{TargetID: targetID, State: b.statusScript[idx], PID: 101}, nil
}

func (b *scriptedBackend) UpdateEnv(ctx context.Context, targetID string, diff api.EnvDiff) error {
	return nil
}

func (b *scriptedBackend) ListCapabilities(ctx context.Context, targetID string) ([]api.Capability, error) {
	return b.capabilities, nil
}

func (b *scriptedBackend) InvokeCapability(ctx context.Context, targetID, capability string, args map[string]interface{}) (string, error) {
	return `{"ok":true}`, nil
}

func (b *scriptedBackend) ControlAction(ctx context.Context, targetID string, verb api.ControlVerb) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verbs = append(b.verbs, verb)
	return b.controlErr
}

func testConfig() config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Poll.Control = config.PollPolicy{IntervalMs: 10, MaxAttempts: 3}
	cfg.Poll.EnvApply = config.PollPolicy{IntervalMs: 10, MaxAttempts: 3}
	cfg.Poll.ToolVerify = config.PollPolicy{IntervalMs: 10, MaxAttempts: 3}
	return cfg
}

func TestStartReachesRunning(t *testing.T) {
	backend := &scriptedBackend{statusScript: []api.TargetState{api.StateStarting, api.StateRunning}}
	c := New(backend, nil, testConfig())
	defer c.Close()

	outcome, err := c.Start(context.Background(), "srv1")
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeSuccess, outcome.Status)
	assert.Equal(t, []api.ControlVerb{api.ControlStart}, backend.verbs)

	// The poll observations populated the target state store.
	snapshot, exists := c.Targets().Get("srv1")
	require.True(t, exists)
	assert.Equal(t, api.StateRunning, snapshot.State)
}

func TestStopReachesStopped(t *testing.T) {
	backend := &scriptedBackend{statusScript: []api.TargetState{api.StateStopping, api.StateStopped}}
	c := New(backend, nil, testConfig())
	defer c.Close()

	outcome, err := c.Stop(context.Background(), "srv1")
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeSuccess, outcome.Status)
	assert.Equal(t, []api.ControlVerb{api.ControlStop}, backend.verbs)
}

func TestRestartTimeoutIsTerminal(t *testing.T) {
	backend := &scriptedBackend{statusScript: []api.TargetState{api.StateRestarting}}
	c := New(backend, nil, testConfig())
	defer c.Close()

	outcome, err := c.Restart(context.Background(), "srv1")
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeTimeout, outcome.Status)
	assert.NotEmpty(t, outcome.Message)
	assert.Equal(t, 3, backend.statusCalls)
}

func TestControlBackendErrorPropagatedVerbatim(t *testing.T) {
	backend := &scriptedBackend{
		statusScript: []api.TargetState{api.StateStopped},
		controlErr:   &api.BackendError{Op: "start", TargetID: "srv1", Message: "spawn failed: ENOENT"},
	}
	c := New(backend, nil, testConfig())
	defer c.Close()

	outcome, err := c.Start(context.Background(), "srv1")
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeFailed, outcome.Status)
	assert.Contains(t, outcome.Message, "spawn failed: ENOENT")
	// A rejected control action does not poll.
	assert.Equal(t, 0, backend.statusCalls)
}

func TestGuardRejectsOverlappingActions(t *testing.T) {
	backend := &scriptedBackend{statusScript: []api.TargetState{api.StateStarting}}
	c := New(backend, nil, testConfig())
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Start(context.Background(), "srv1")
	}()

	require.Eventually(t, func() bool {
		_, err := c.Stop(context.Background(), "srv1")
		return errors.Is(err, api.ErrActionInProgress)
	}, time.Second, 5*time.Millisecond)
	<-done
}

func TestActionEventsPublished(t *testing.T) {
	backend := &scriptedBackend{statusScript: []api.TargetState{api.StateRunning}}
	c := New(backend, nil, testConfig())
	defer c.Close()

	var mu sync.Mutex
	var completed []reporting.ActionEvent
	c.Bus().Subscribe(reporting.FilterByType(reporting.EventTypeActionCompleted), func(e reporting.Event) {
		mu.Lock()
		defer mu.Unlock()
		if evt, ok := e.(reporting.ActionEvent); ok {
			completed = append(completed, evt)
		}
	})

	_, err := c.Start(context.Background(), "srv1")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, completed, 1)
	assert.Equal(t, api.ActionStarting, completed[0].Kind)
	require.NotNil(t, completed[0].Outcome)
	assert.Equal(t, api.OutcomeSuccess, completed[0].Outcome.Status)
}

func TestStatusObservesTarget(t *testing.T) {
	backend := &scriptedBackend{statusScript: []api.TargetState{api.StateRunning}}
	c := New(backend, nil, testConfig())
	defer c.Close()

	status, err := c.Status(context.Background(), "srv1")
	require.NoError(t, err)
	assert.Equal(t, api.StateRunning, status.State)

	snapshot, exists := c.Targets().Get("srv1")
	require.True(t, exists)
	assert.Equal(t, 101, snapshot.PID)
}

func TestSubmitEnvDiffEndToEnd(t *testing.T) {
	backend := &scriptedBackend{
		statusScript: []api.TargetState{api.StateRestarting, api.StateRestarting, api.StateRunning},
		capabilities: []api.Capability{{Name: "search"}, {Name: "fetch"}},
	}
	c := New(backend, nil, testConfig())
	defer c.Close()

	outcome, err := c.SubmitEnvDiff(context.Background(), "srv1", api.NewEnvDiff().Set("API_KEY", "x"))
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeSuccess, outcome.Status)
	assert.True(t, outcome.EnvApplied)
	assert.Equal(t, 3, backend.statusCalls)
}

func TestHistoryAccessorsWithoutStore(t *testing.T) {
	backend := &scriptedBackend{statusScript: []api.TargetState{api.StateRunning}}
	c := New(backend, nil, testConfig())
	defer c.Close()

	records, err := c.History(context.Background(), "srv1", "search")
	require.NoError(t, err)
	assert.Empty(t, records)

	_, found, err := c.Replay(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, c.ClearHistory(context.Background(), "srv1", "search"))
}
