package invoke

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpdash/internal/api"
	"mcpdash/internal/guard"
	"mcpdash/internal/history"
	"mcpdash/internal/reporting"
)

// fakeInvoker scripts InvokeCapability behavior per call.
type fakeInvoker struct {
	mu      sync.Mutex
	calls   int
	results []invokeResult
	// block, when non-nil, makes calls wait for release or cancellation.
	block chan struct{}
}

type invokeResult struct {
	payload string
	err     error
}

func (f *fakeInvoker) InvokeCapability(ctx context.Context, targetID, capability string, args map[string]interface{}) (string, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	if idx >= len(f.results) {
		return "ok", nil
	}
	return f.results[idx].payload, f.results[idx].err
}

func (f *fakeInvoker) FetchStatus(ctx context.Context, targetID string) (api.TargetStatus, error) {
	return api.TargetStatus{}, errors.New("not implemented")
}

func (f *fakeInvoker) UpdateEnv(ctx context.Context, targetID string, diff api.EnvDiff) error {
	return errors.New("not implemented")
}

func (f *fakeInvoker) ListCapabilities(ctx context.Context, targetID string) ([]api.Capability, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeInvoker) ControlAction(ctx context.Context, targetID string, verb api.ControlVerb) error {
	return errors.New("not implemented")
}

func openTestStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"), 20)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testArgs() api.Args {
	return api.Args{{Name: "query", Value: "hello"}}
}

func TestExecuteSuccessRecordsHistory(t *testing.T) {
	backend := &fakeInvoker{results: []invokeResult{{payload: "the result"}}}
	store := openTestStore(t)
	engine := New(backend, guard.New(), store, nil, 8192)

	handle, err := engine.Execute(context.Background(), "srv1", "search", testArgs())
	require.NoError(t, err)

	outcome, err := handle.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeSuccess, outcome.Status)
	require.NotNil(t, outcome.Invocation)
	assert.Equal(t, "the result", outcome.Invocation.Result)
	assert.GreaterOrEqual(t, outcome.Invocation.DurationMs, int64(0))

	records, err := store.List(context.Background(), "srv1", "search")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, handle.InvocationID, records[0].ID)
	assert.Equal(t, api.InvocationSuccess, records[0].Outcome)
}

func TestExecuteFailureIsRecordedAndSurfaced(t *testing.T) {
	backend := &fakeInvoker{results: []invokeResult{{err: &api.BackendError{Op: "invoke", TargetID: "srv1", Message: "tool crashed"}}}}
	store := openTestStore(t)
	engine := New(backend, guard.New(), store, nil, 8192)

	handle, err := engine.Execute(context.Background(), "srv1", "search", testArgs())
	require.NoError(t, err)

	outcome, err := handle.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeFailed, outcome.Status)
	assert.Contains(t, outcome.Message, "tool crashed")

	records, err := store.List(context.Background(), "srv1", "search")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, api.InvocationFailure, records[0].Outcome)
	assert.Contains(t, records[0].Error, "tool crashed")
}

func TestSupersedeCancelsFirstAndKeepsOnlySecond(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeInvoker{
		block:   release,
		results: []invokeResult{{payload: "first"}, {payload: "second"}},
	}
	store := openTestStore(t)
	engine := New(backend, guard.New(), store, nil, 8192)

	first, err := engine.Execute(context.Background(), "srv1", "search", testArgs())
	require.NoError(t, err)

	second, err := engine.Execute(context.Background(), "srv1", "search", testArgs())
	require.NoError(t, err)
	assert.Greater(t, second.Generation, first.Generation)

	// Let the second call (and the cancelled first, if still waiting) go.
	close(release)

	firstOutcome, err := first.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeCancelled, firstOutcome.Status)

	secondOutcome, err := second.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeSuccess, secondOutcome.Status)

	// Only the second invocation's record survives.
	records, err := store.List(context.Background(), "srv1", "search")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, second.InvocationID, records[0].ID)
}

func TestStaleResolutionIsDiscarded(t *testing.T) {
	// The first call ignores cancellation and resolves successfully after
	// being superseded; its result must still be discarded.
	release := make(chan struct{})
	backend := &stubbornInvoker{release: release}
	store := openTestStore(t)
	engine := New(backend, guard.New(), store, nil, 8192)

	first, err := engine.Execute(context.Background(), "srv1", "search", testArgs())
	require.NoError(t, err)

	second, err := engine.Execute(context.Background(), "srv1", "search", testArgs())
	require.NoError(t, err)

	close(release)

	firstOutcome, err := first.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeCancelled, firstOutcome.Status)

	_, err = second.Wait(context.Background())
	require.NoError(t, err)

	records, err := store.List(context.Background(), "srv1", "search")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, second.InvocationID, records[0].ID)
}

// stubbornInvoker resolves successfully even after its context is cancelled.
type stubbornInvoker struct {
	fakeInvoker
	release chan struct{}
}

func (s *stubbornInvoker) InvokeCapability(ctx context.Context, targetID, capability string, args map[string]interface{}) (string, error) {
	<-s.release
	return "stubborn result", nil
}

func TestCallerCancellationIsSuppressed(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeInvoker{block: release}
	store := openTestStore(t)
	g := guard.New()
	engine := New(backend, g, store, nil, 8192)

	ctx, cancel := context.WithCancel(context.Background())
	handle, err := engine.Execute(ctx, "srv1", "search", testArgs())
	require.NoError(t, err)

	cancel()
	outcome, err := handle.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeCancelled, outcome.Status)

	// Nothing persisted, lock released.
	records, err := store.List(context.Background(), "srv1", "search")
	require.NoError(t, err)
	assert.Empty(t, records)

	_, held := g.Holder("srv1")
	assert.False(t, held)
	close(release)
}

// ctxRecordingInvoker remembers the context each call ran under.
type ctxRecordingInvoker struct {
	fakeInvoker
	ctxMu   sync.Mutex
	lastCtx context.Context
}

func (c *ctxRecordingInvoker) InvokeCapability(ctx context.Context, targetID, capability string, args map[string]interface{}) (string, error) {
	c.ctxMu.Lock()
	c.lastCtx = ctx
	c.ctxMu.Unlock()
	return "done", nil
}

func TestCompletionReleasesRunContext(t *testing.T) {
	backend := &ctxRecordingInvoker{}
	engine := New(backend, guard.New(), nil, nil, 8192)

	handle, err := engine.Execute(context.Background(), "srv1", "search", testArgs())
	require.NoError(t, err)

	outcome, err := handle.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeSuccess, outcome.Status)

	// The per-invocation context must be torn down once the outcome is
	// final, not left registered with the caller's context.
	backend.ctxMu.Lock()
	runCtx := backend.lastCtx
	backend.ctxMu.Unlock()
	require.NotNil(t, runCtx)
	assert.ErrorIs(t, runCtx.Err(), context.Canceled)
}

func TestSupersedeKeepsTargetLockHeld(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeInvoker{block: release}
	g := guard.New()
	engine := New(backend, g, nil, nil, 8192)

	first, err := engine.Execute(context.Background(), "srv1", "search", testArgs())
	require.NoError(t, err)

	second, err := engine.Execute(context.Background(), "srv1", "search", testArgs())
	require.NoError(t, err)

	// The lock must survive the handover: a control action slipping in
	// between release and re-acquisition would strand the new invocation.
	kind, held := g.Holder("srv1")
	require.True(t, held)
	assert.Equal(t, api.ActionInvoking, kind)

	_, err = g.Acquire("srv1", api.ActionRestarting)
	assert.ErrorIs(t, err, api.ErrActionInProgress)

	close(release)
	_, err = first.Wait(context.Background())
	require.NoError(t, err)
	_, err = second.Wait(context.Background())
	require.NoError(t, err)
}

func TestTargetBusyWithOtherActionFailsFast(t *testing.T) {
	g := guard.New()
	_, err := g.Acquire("srv1", api.ActionRestarting)
	require.NoError(t, err)

	engine := New(&fakeInvoker{}, g, nil, nil, 8192)
	_, err = engine.Execute(context.Background(), "srv1", "search", testArgs())
	assert.ErrorIs(t, err, api.ErrActionInProgress)
}

func TestOtherCapabilityOnSameTargetIsNotSuperseded(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeInvoker{block: release}
	engine := New(backend, guard.New(), nil, nil, 8192)

	first, err := engine.Execute(context.Background(), "srv1", "search", testArgs())
	require.NoError(t, err)

	// A different capability is a different session: it must not steal the
	// target lock from the outstanding invocation.
	_, err = engine.Execute(context.Background(), "srv1", "fetch", testArgs())
	assert.ErrorIs(t, err, api.ErrActionInProgress)

	close(release)
	outcome, err := first.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeSuccess, outcome.Status)
}

func TestTargetsAreIndependent(t *testing.T) {
	backend := &fakeInvoker{}
	engine := New(backend, guard.New(), nil, nil, 8192)

	first, err := engine.Execute(context.Background(), "srv1", "search", testArgs())
	require.NoError(t, err)
	second, err := engine.Execute(context.Background(), "srv2", "search", testArgs())
	require.NoError(t, err)

	out1, err := first.Wait(context.Background())
	require.NoError(t, err)
	out2, err := second.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeSuccess, out1.Status)
	assert.Equal(t, api.OutcomeSuccess, out2.Status)
}

func TestExecuteValidation(t *testing.T) {
	engine := New(&fakeInvoker{}, guard.New(), nil, nil, 8192)

	_, err := engine.Execute(context.Background(), "", "search", testArgs())
	assert.True(t, api.IsValidation(err))

	_, err = engine.Execute(context.Background(), "srv1", "", testArgs())
	assert.True(t, api.IsValidation(err))

	dupArgs := api.Args{{Name: "a", Value: 1}, {Name: "a", Value: 2}}
	_, err = engine.Execute(context.Background(), "srv1", "search", dupArgs)
	assert.True(t, api.IsValidation(err))
}

func TestResultSnapshotIsBounded(t *testing.T) {
	big := make([]byte, 100)
	for i := range big {
		big[i] = 'x'
	}
	backend := &fakeInvoker{results: []invokeResult{{payload: string(big)}}}
	store := openTestStore(t)
	engine := New(backend, guard.New(), store, nil, 10)

	handle, err := engine.Execute(context.Background(), "srv1", "search", testArgs())
	require.NoError(t, err)
	outcome, err := handle.Wait(context.Background())
	require.NoError(t, err)

	require.NotNil(t, outcome.Invocation)
	assert.Equal(t, "xxxxxxxxxx [truncated]", outcome.Invocation.Result)
}

func TestSupersedePublishesEvents(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeInvoker{block: release}
	bus := reporting.NewEventBus()
	defer bus.Close()
	engine := New(backend, guard.New(), nil, bus, 8192)

	var mu sync.Mutex
	counts := map[reporting.EventType]int{}
	bus.Subscribe(nil, func(e reporting.Event) {
		mu.Lock()
		counts[e.Type()]++
		mu.Unlock()
	})

	first, err := engine.Execute(context.Background(), "srv1", "search", testArgs())
	require.NoError(t, err)
	second, err := engine.Execute(context.Background(), "srv1", "search", testArgs())
	require.NoError(t, err)

	close(release)
	_, err = first.Wait(context.Background())
	require.NoError(t, err)
	_, err = second.Wait(context.Background())
	require.NoError(t, err)

	// Only the surviving invocation publishes a finished event; the
	// superseded one is discarded silently after its superseded event.
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts[reporting.EventTypeInvocationFinished] == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, counts[reporting.EventTypeInvocationStarted])
	assert.Equal(t, 1, counts[reporting.EventTypeInvocationSuperseded])
}
