package coordinator

import (
	"context"
	"time"
)

// Phase represents the discrete state of the synchronization state machine
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
)

// State is an immutable snapshot of the coordinator. A new value is
// published on every transition; fields are never mutated in place.
type State struct {
	Phase Phase `json:"phase"`
	// ErrorMessage is non-empty only when Phase is PhaseFailed. It is
	// cleared on every non-failure transition.
	ErrorMessage string `json:"error_message,omitempty"`
	// LastSync holds the completion time of the most recent successful
	// run. Zero means no run has ever succeeded. It only moves forward.
	LastSync time.Time `json:"last_sync,omitempty"`
}

// Provider performs the actual data exchange for one synchronization run
type Provider interface {
	Sync(ctx context.Context) error
}

// ProviderFunc adapts a plain function to the Provider interface
type ProviderFunc func(ctx context.Context) error

// Sync calls f
func (f ProviderFunc) Sync(ctx context.Context) error { return f(ctx) }
