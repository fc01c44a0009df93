package guard

import (
	"sync"

	"mcpdash/internal/api"
	"mcpdash/pkg/logging"
)

// Token represents a held action lock. Release goes through the guard so a
// token that has been superseded or already released is a no-op and can
// never unlock another holder's entry.
type Token struct {
	targetID string
	kind     api.ActionKind
}

// TargetID returns the target the token locks.
func (t *Token) TargetID() string {
	return t.targetID
}

// Kind returns the action kind the token was acquired for.
func (t *Token) Kind() api.ActionKind {
	return t.kind
}

// ActionGuard is a single-flight lock keyed by target id. At most one
// control action per target may be in flight; actions on different targets
// never block each other.
type ActionGuard struct {
	mu      sync.Mutex
	holders map[string]*Token
}

// New creates an empty guard.
func New() *ActionGuard {
	return &ActionGuard{
		holders: make(map[string]*Token),
	}
}

// Acquire takes the lock for targetID, failing fast with
// api.ErrActionInProgress if any action already holds it.
func (g *ActionGuard) Acquire(targetID string, kind api.ActionKind) (*Token, error) {
	if targetID == "" {
		return nil, &api.ValidationError{Field: "targetID", Reason: "must not be empty"}
	}
	if !kind.Valid() {
		return nil, &api.ValidationError{Field: "kind", Reason: "unknown action kind"}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if holder, held := g.holders[targetID]; held {
		logging.Debug("ActionGuard", "Rejecting %s on %s: %s already in flight", kind, targetID, holder.kind)
		return nil, api.ErrActionInProgress
	}

	token := &Token{targetID: targetID, kind: kind}
	g.holders[targetID] = token
	return token, nil
}

// Swap atomically replaces a held token with a fresh one for the same
// target. The lock is never observably free during the exchange, so no
// concurrent Acquire can slip in between release and re-acquisition. It
// fails with api.ErrActionInProgress if token no longer holds the target.
func (g *ActionGuard) Swap(token *Token, kind api.ActionKind) (*Token, error) {
	if token == nil {
		return nil, &api.ValidationError{Field: "token", Reason: "must not be nil"}
	}
	if !kind.Valid() {
		return nil, &api.ValidationError{Field: "kind", Reason: "unknown action kind"}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.holders[token.targetID] != token {
		return nil, api.ErrActionInProgress
	}

	replacement := &Token{targetID: token.targetID, kind: kind}
	g.holders[token.targetID] = replacement
	return replacement, nil
}

// Release frees the lock held by token. It is idempotent: releasing a nil,
// already-released, or superseded token does nothing.
func (g *ActionGuard) Release(token *Token) {
	if token == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.holders[token.targetID] == token {
		delete(g.holders, token.targetID)
	}
}

// Holder reports the action kind currently holding targetID, if any.
func (g *ActionGuard) Holder(targetID string) (api.ActionKind, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	token, held := g.holders[targetID]
	if !held {
		return "", false
	}
	return token.kind, true
}

// Do runs fn while holding the lock for targetID, releasing it on every exit
// path including panic.
func (g *ActionGuard) Do(targetID string, kind api.ActionKind, fn func() error) error {
	token, err := g.Acquire(targetID, kind)
	if err != nil {
		return err
	}
	defer g.Release(token)
	return fn()
}
