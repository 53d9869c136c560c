// Package adapter defines the boundary through which the engine stamps a
// terminal outcome onto the external business object being approved.
package adapter

import (
	"context"
	"fmt"
)

// Adapter receives the terminal outcome for an approvable request. The engine
// calls it at most once per instance, after the transition is durably
// committed; implementations should still tolerate redundant calls.
type Adapter interface {
	OnFinalized(ctx context.Context, requestID, outcome string) error
}

// Error wraps an adapter failure for surfacing to operators. The instance's
// terminal state is already committed when this occurs.
type Error struct {
	RequestID string
	Outcome   string
	Err       error
}

func (e Error) Error() string {
	return fmt.Sprintf("finalize request %s as %s: %v", e.RequestID, e.Outcome, e.Err)
}

func (e Error) Unwrap() error { return e.Err }

// Func adapts a plain function to the Adapter interface.
type Func func(ctx context.Context, requestID, outcome string) error

func (f Func) OnFinalized(ctx context.Context, requestID, outcome string) error {
	return f(ctx, requestID, outcome)
}
