package api

import (
	"context"
	"errors"
	"fmt"
)

// Common errors for orchestration operations
var (
	// ErrActionInProgress is returned when a guard acquisition is rejected
	// because another action holds the target. It is synchronous and has no
	// side effects; callers must not retry automatically.
	ErrActionInProgress = errors.New("another action is already in progress for this target")

	// ErrCancelled marks a user-initiated cancellation. It is not an error
	// condition from the operator's point of view and is suppressed from
	// user-visible error channels.
	ErrCancelled = errors.New("cancelled by user")
)

// ValidationError reports malformed input detected before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a validation rejection.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// BackendError carries a failure response from a collaborator call. The
// message is propagated verbatim to the user.
type BackendError struct {
	Op       string
	TargetID string
	Message  string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s failed for %s: %s", e.Op, e.TargetID, e.Message)
}

// IsCancelled reports whether err represents a cancellation rather than a
// real failure, including context cancellation from a superseded or
// unmounted caller.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
