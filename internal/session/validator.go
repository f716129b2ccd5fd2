package session

import (
	"context"
	"fmt"
	"time"
)

// livenessProbe is evaluated in the browser; any stringified result proves
// the surface is responsive.
const livenessProbe = "1+1"

// Validator probes session liveness: browser responsiveness plus
// protocol-level connected state. Either check alone is insufficient — a
// responsive surface can still be mid-handshake.
type Validator struct {
	registry *Registry
	probe    Policy
}

// NewValidator creates a validator over the registry with the default
// probe budget (three attempts, two seconds each).
func NewValidator(registry *Registry) *Validator {
	return &Validator{
		registry: registry,
		probe: Policy{
			MaxAttempts:       3,
			PerAttemptTimeout: 2 * time.Second,
			Interval:          500 * time.Millisecond,
		},
	}
}

// Check probes the session and reports a structured result. Probe timeouts
// are reported via the result, never as an error.
func (v *Validator) Check(ctx context.Context, id string) LivenessResult {
	h := v.registry.Get(id)
	if h == nil {
		return LivenessResult{Reason: "unknown session"}
	}

	client := h.Client()
	surface := client.Surface()

	if surface.IsClosed() {
		return LivenessResult{Reason: "browser surface closed"}
	}

	err := v.probe.Do(ctx, func(ctx context.Context) error {
		_, err := surface.Evaluate(ctx, livenessProbe)
		return err
	})
	if err != nil {
		return LivenessResult{Reason: fmt.Sprintf("browser surface unresponsive: %v", err)}
	}

	// The state read gets the same per-attempt bound as the probe so a hung
	// evaluate cannot block a batch caller.
	var state ConnectionState
	stateAttempt := Policy{MaxAttempts: 1, PerAttemptTimeout: v.probe.PerAttemptTimeout}
	err = stateAttempt.Do(ctx, func(ctx context.Context) error {
		var stateErr error
		state, stateErr = client.ConnectionState(ctx)
		return stateErr
	})
	if err != nil {
		return LivenessResult{Reason: fmt.Sprintf("connection state unavailable: %v", err)}
	}
	if state != StateConnected {
		return LivenessResult{State: &state, Reason: fmt.Sprintf("protocol state %s", state)}
	}

	return LivenessResult{Success: true, State: &state, Reason: "connected"}
}
