// Copyright 2025 Homestack Developers
// Licensed under the AGPLv3, see LICENCE file for details.

package deployment

import (
	"time"

	"github.com/juju/errors"
)

// State is the lifecycle state of a monitored deployment.
type State string

const (
	// Pending means the monitor is registered but the first poll has
	// not fired yet.
	Pending State = "pending"

	// Running means the provider is still provisioning.
	Running State = "running"

	// Succeeded means the provider reported the deployment complete.
	Succeeded State = "succeeded"

	// Failed means either the provider definitively rejected or rolled
	// back the deployment, or the status endpoint was unreachable for
	// too many consecutive ticks (see ReasonProbeUnreachable).
	Failed State = "failed"

	// TimedOut means the wall-clock budget was exhausted before the
	// provider reported a terminal state.
	TimedOut State = "timed-out"

	// Cancelled means a cooperative cancellation was honored at a tick
	// boundary.
	Cancelled State = "cancelled"
)

// IsTerminal reports whether no further transitions can occur.
func (s State) IsTerminal() bool {
	switch s {
	case Succeeded, Failed, TimedOut, Cancelled:
		return true
	}
	return false
}

// Validate returns an error if the state is not a known value.
func (s State) Validate() error {
	switch s {
	case Pending, Running, Succeeded, Failed, TimedOut, Cancelled:
		return nil
	}
	return errors.NotValidf("state %q", string(s))
}

func (s State) String() string {
	return string(s)
}

const (
	// ReasonProbeUnreachable distinguishes a monitor that gave up
	// because it could not observe the deployment from one whose
	// deployment actually failed. Downstream tooling may retry the
	// whole deployment on this reason but should not assume the
	// provider-side operation failed.
	ReasonProbeUnreachable = "probe-unreachable"

	// LocalMonitoringStopped is recorded on cancellation and timeout.
	// Stopping a monitor stops only the local polling; the provider
	// side operation is not aborted and may still run to completion.
	LocalMonitoringStopped = "local monitoring stopped; the provider-side operation may still be running"
)

// Status is a point-in-time record of one deployment's progress. The live
// record is owned by its monitor; everything outside the monitor only ever
// sees value copies taken at a tick boundary.
type Status struct {
	// ID is the handle identifier of the owning monitor.
	ID string

	// Resource is what is being deployed.
	Resource Resource

	// OperationRef is the provider operation reference from submission,
	// if any.
	OperationRef string

	// State is the lifecycle state after the most recent tick.
	State State

	// Attempts is the number of poll ticks made so far, including the
	// tick that reached a terminal state.
	Attempts int

	// TransientTicks counts consecutive ticks whose probe exhausted its
	// retry budget. Reset to zero by any successful probe.
	TransientTicks int

	// LastProbe is the time of the last successful probe.
	LastProbe time.Time

	// ProviderState is the last provider-reported state string,
	// verbatim.
	ProviderState string

	// Reason is set on Failed states: either the provider-supplied
	// failure reason or ReasonProbeUnreachable.
	Reason string

	// Detail carries supplementary human-readable context, such as the
	// LocalMonitoringStopped caveat.
	Detail string

	// Started is when the monitor began polling; Ended is when a
	// terminal state was reached.
	Started time.Time
	Ended   time.Time
}
