package invoke

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"mcpdash/internal/api"
	"mcpdash/internal/guard"
	"mcpdash/internal/history"
	"mcpdash/internal/reporting"
	"mcpdash/pkg/logging"
)

// Engine executes capability invocations with a last-request-wins policy:
// a new Execute for the same (target, capability) session immediately
// cancels the outstanding one instead of queueing behind it. Every
// asynchronous continuation validates its generation token before touching
// shared state, so a superseded invocation that resolves late is a no-op
// and its result is never recorded.
type Engine struct {
	backend        api.Backend
	guard          *guard.ActionGuard
	history        *history.Store
	bus            *reporting.EventBus
	maxResultBytes int

	mu       sync.Mutex
	sessions map[string]*session
}

// session tracks the invocation currently authoritative for one
// (target, capability) pair. generation only ever increases.
type session struct {
	generation uint64
	cancel     context.CancelFunc
	token      *guard.Token
}

func (s *session) active() bool {
	return s != nil && s.cancel != nil
}

// New creates an engine. bus may be nil; history may be nil when recording
// is not wanted (tests of pure supersede behavior).
func New(backend api.Backend, g *guard.ActionGuard, store *history.Store, bus *reporting.EventBus, maxResultBytes int) *Engine {
	if maxResultBytes < 1 {
		maxResultBytes = 8192
	}
	return &Engine{
		backend:        backend,
		guard:          g,
		history:        store,
		bus:            bus,
		maxResultBytes: maxResultBytes,
		sessions:       make(map[string]*session),
	}
}

// Handle tracks one invocation to its terminal outcome.
type Handle struct {
	InvocationID string
	Generation   uint64

	done    chan struct{}
	outcome api.Outcome
}

// Wait blocks until the invocation reaches its terminal outcome or ctx is
// cancelled.
func (h *Handle) Wait(ctx context.Context) (api.Outcome, error) {
	select {
	case <-ctx.Done():
		return api.Outcome{}, ctx.Err()
	case <-h.done:
		return h.outcome, nil
	}
}

// Done exposes completion for select loops.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func sessionKey(targetID, capability string) string {
	return targetID + "/" + capability
}

// Execute starts a capability invocation. Validation failures and guard
// rejections for a target busy with a different action return synchronously;
// an outstanding invocation of the same session is superseded instead.
func (e *Engine) Execute(ctx context.Context, targetID, capability string, args api.Args) (*Handle, error) {
	if targetID == "" {
		return nil, &api.ValidationError{Field: "targetID", Reason: "must not be empty"}
	}
	if capability == "" {
		return nil, &api.ValidationError{Field: "capability", Reason: "must not be empty"}
	}
	if err := args.Validate(); err != nil {
		return nil, err
	}

	key := sessionKey(targetID, capability)

	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.sessions[key]

	var token *guard.Token
	var err error
	if sess.active() {
		// Last request wins: raise the old invocation's cancellation signal
		// and exchange its lock entry for ours in one step, so a concurrent
		// action on the target cannot take the lock in between.
		logging.Debug("InvocationEngine", "Superseding generation %d for %s", sess.generation, key)
		sess.cancel()
		if e.bus != nil {
			e.bus.Publish(reporting.NewInvocationEvent(
				reporting.EventTypeInvocationSuperseded, targetID, capability, "", sess.generation, ""))
		}
		token, err = e.guard.Swap(sess.token, api.ActionInvoking)
	} else {
		token, err = e.guard.Acquire(targetID, api.ActionInvoking)
	}
	if err != nil {
		return nil, err
	}

	if sess == nil {
		sess = &session{}
		e.sessions[key] = sess
	}
	sess.generation++
	generation := sess.generation

	runCtx, cancel := context.WithCancel(ctx)
	sess.cancel = cancel
	sess.token = token

	handle := &Handle{
		InvocationID: uuid.NewString(),
		Generation:   generation,
		done:         make(chan struct{}),
	}

	if e.bus != nil {
		e.bus.Publish(reporting.NewInvocationEvent(
			reporting.EventTypeInvocationStarted, targetID, capability, handle.InvocationID, generation, ""))
	}

	go e.run(runCtx, handle, key, targetID, capability, args, generation, token)
	return handle, nil
}

// run is the asynchronous continuation of one invocation. It must not
// mutate shared state unless its generation is still authoritative.
func (e *Engine) run(ctx context.Context, handle *Handle, key, targetID, capability string, args api.Args, generation uint64, token *guard.Token) {
	// LIFO: the lock is released before waiters observe completion.
	defer close(handle.done)
	defer e.guard.Release(token)

	start := time.Now()
	result, invokeErr := e.backend.InvokeCapability(ctx, targetID, capability, args.Map())
	duration := time.Since(start)

	e.mu.Lock()
	sess := e.sessions[key]
	stale := sess == nil || sess.generation != generation
	var cancel context.CancelFunc
	if !stale {
		cancel = sess.cancel
		sess.cancel = nil
		sess.token = nil
	}
	e.mu.Unlock()

	// The run context must not stay registered with the caller's context
	// once the invocation has resolved.
	if cancel != nil {
		cancel()
	}

	if stale {
		// A newer request took over while we were in flight; discard the
		// provisional record no matter how the call resolved.
		logging.Debug("InvocationEngine", "Discarding stale generation %d result for %s", generation, key)
		handle.outcome = api.Outcome{Status: api.OutcomeCancelled}
		return
	}

	invocation := api.Invocation{
		ID:         handle.InvocationID,
		TargetID:   targetID,
		Capability: capability,
		Args:       args,
		Timestamp:  start.UTC(),
		DurationMs: duration.Milliseconds(),
	}

	switch {
	case invokeErr == nil:
		invocation.Outcome = api.InvocationSuccess
		invocation.Result = e.boundResult(result)
	case api.IsCancelled(invokeErr):
		invocation.Outcome = api.InvocationCancelled
	default:
		invocation.Outcome = api.InvocationFailure
		invocation.Error = invokeErr.Error()
	}

	if invocation.Outcome == api.InvocationCancelled {
		// Cancellation is not an error: suppressed from user-visible
		// channels and never persisted.
		handle.outcome = api.Outcome{Status: api.OutcomeCancelled, Invocation: &invocation}
		e.publishFinished(targetID, capability, handle.InvocationID, generation, invocation.Outcome)
		return
	}

	if e.history != nil {
		if err := e.history.Append(context.Background(), invocation); err != nil {
			logging.Error("InvocationEngine", err, "Failed to record invocation %s", invocation.ID)
		}
	}

	outcome := api.Outcome{Invocation: &invocation}
	if invocation.Outcome == api.InvocationSuccess {
		outcome.Status = api.OutcomeSuccess
	} else {
		outcome.Status = api.OutcomeFailed
		outcome.Message = invocation.Error
	}
	handle.outcome = outcome
	e.publishFinished(targetID, capability, handle.InvocationID, generation, invocation.Outcome)
}

func (e *Engine) publishFinished(targetID, capability, invocationID string, generation uint64, outcome api.InvocationOutcome) {
	if e.bus != nil {
		e.bus.Publish(reporting.NewInvocationEvent(
			reporting.EventTypeInvocationFinished, targetID, capability, invocationID, generation, string(outcome)))
	}
}

// boundResult caps the persisted result snapshot.
func (e *Engine) boundResult(result string) string {
	if len(result) <= e.maxResultBytes {
		return result
	}
	return result[:e.maxResultBytes] + " [truncated]"
}
