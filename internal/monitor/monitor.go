// Copyright 2025 Homestack Developers
// Licensed under the AGPLv3, see LICENCE file for details.

// Package monitor implements the per-deployment state machine: a worker
// that polls provider state at a fixed interval until the deployment
// succeeds, fails, times out or is cancelled.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"gopkg.in/tomb.v2"

	"github.com/homestack/azdeploy/core/deployment"
)

// DefaultUnreachableTicks is how many consecutive ticks may exhaust their
// probe retry budget before the monitor gives up with ReasonProbeUnreachable.
const DefaultUnreachableTicks = 3

// Logger represents the methods used by the monitor to log information.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warningf(string, ...interface{})
}

// Config holds everything a Monitor needs. The Prober is expected to
// already absorb transient failures internally (see internal/probing); an
// error return from Probe here means the retry budget for one tick was
// exhausted.
type Config struct {
	// ID is the handle identifier the monitor reports under.
	ID string

	// Request is the deployment being tracked. PollInterval and
	// MaxDuration must be set; use Request.WithDefaults.
	Request deployment.Request

	// OperationRef is the provider operation reference from submission.
	OperationRef string

	Prober deployment.Prober
	Sink   deployment.Sink
	Clock  clock.Clock
	Logger Logger

	// UnreachableTicks overrides DefaultUnreachableTicks when positive.
	UnreachableTicks int

	// OnDone, if set, is called exactly once after the terminal status
	// has been recorded, whether the monitor finished or was killed.
	OnDone func(id string)
}

// Validate ensures that the config values are valid.
func (c Config) Validate() error {
	if c.ID == "" {
		return errors.NotValidf("empty ID")
	}
	if err := c.Request.Validate(); err != nil {
		return errors.Trace(err)
	}
	if c.Prober == nil {
		return errors.NotValidf("nil Prober")
	}
	if c.Sink == nil {
		return errors.NotValidf("nil Sink")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Monitor drives one deployment from submission to a terminal state. It
// implements worker.Worker; the worker always exits cleanly, and the
// outcome is conveyed through Status, never through the run error.
type Monitor struct {
	tomb tomb.Tomb

	config  Config
	started time.Time

	mu     sync.Mutex
	status deployment.Status

	cancelled atomic.Bool
}

// New starts a Monitor for config.Request. The first poll fires one poll
// interval after this call; until then the status is Pending.
func New(config Config) (*Monitor, error) {
	if config.UnreachableTicks <= 0 {
		config.UnreachableTicks = DefaultUnreachableTicks
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	m := &Monitor{
		config:  config,
		started: config.Clock.Now(),
	}
	m.status = deployment.Status{
		ID:           config.ID,
		Resource:     config.Request.Resource,
		OperationRef: config.OperationRef,
		State:        deployment.Pending,
		Started:      m.started,
	}
	m.tomb.Go(m.loop)
	return m, nil
}

// Kill is part of the worker.Worker interface.
func (m *Monitor) Kill() {
	m.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (m *Monitor) Wait() error {
	return m.tomb.Wait()
}

// Status returns a snapshot of the deployment's progress as of the most
// recently completed tick. It never blocks on a tick in flight.
func (m *Monitor) Status() deployment.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Cancel requests cooperative cancellation. The request takes effect at
// the next tick boundary, not instantaneously. It returns true if the
// monitor was still live and the request was accepted, false if the
// monitor had already reached a terminal state.
func (m *Monitor) Cancel() bool {
	if m.Status().State.IsTerminal() {
		return false
	}
	m.cancelled.Store(true)
	return true
}

func (m *Monitor) loop() error {
	defer func() {
		if m.config.OnDone != nil {
			m.config.OnDone(m.config.ID)
		}
	}()

	timer := m.config.Clock.NewTimer(m.config.Request.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-m.tomb.Dying():
			m.finish(deployment.Cancelled, "", deployment.LocalMonitoringStopped)
			return tomb.ErrDying
		case <-timer.Chan():
			if terminal := m.tick(); terminal {
				return nil
			}
			timer.Reset(m.config.Request.PollInterval)
		}
	}
}

// tick evaluates the transition rules once: cancellation first, then the
// wall-clock budget, then a probe. It reports whether a terminal state was
// reached.
func (m *Monitor) tick() bool {
	now := m.config.Clock.Now()

	if m.cancelled.Load() {
		m.finish(deployment.Cancelled, "", deployment.LocalMonitoringStopped)
		return true
	}

	if now.Sub(m.started) >= m.config.Request.MaxDuration {
		m.finish(deployment.TimedOut, "", deployment.LocalMonitoringStopped)
		return true
	}

	ctx := m.tomb.Context(context.Background())
	result, err := m.config.Prober.Probe(ctx, m.config.Request.Resource)
	if err != nil {
		return m.transientTick(now, err)
	}

	m.mu.Lock()
	m.status.Attempts++
	m.status.TransientTicks = 0
	m.status.LastProbe = now
	m.status.ProviderState = result.ProviderState
	m.mu.Unlock()

	switch result.Outcome {
	case deployment.OutcomeSucceeded:
		m.finish(deployment.Succeeded, "", result.Detail)
		return true
	case deployment.OutcomeFailed:
		// The provider-supplied reason is preserved verbatim.
		m.finish(deployment.Failed, result.Detail, "")
		return true
	default:
		m.setRunning("")
		return false
	}
}

// transientTick records a tick whose probe retry budget was exhausted.
// The deployment state is unknown, so the monitor stays in Running unless
// too many consecutive ticks have been unobservable, at which point it
// gives up with a reason distinct from a genuine provider failure.
func (m *Monitor) transientTick(now time.Time, probeErr error) bool {
	m.mu.Lock()
	m.status.Attempts++
	m.status.TransientTicks++
	ticks := m.status.TransientTicks
	m.mu.Unlock()

	m.config.Logger.Warningf("deployment %s: status unobservable for %d consecutive ticks: %v",
		m.config.Request.Resource, ticks, probeErr)

	if ticks >= m.config.UnreachableTicks {
		m.finish(deployment.Failed, deployment.ReasonProbeUnreachable, probeErr.Error())
		return true
	}
	m.setRunning("status query failed: " + probeErr.Error())
	return false
}

func (m *Monitor) setRunning(detail string) {
	m.mu.Lock()
	m.status.State = deployment.Running
	m.mu.Unlock()
	m.emit(deployment.Running, detail)
}

// finish records a terminal state exactly once. Later calls, including the
// one made when the worker is killed after completing, are no-ops.
func (m *Monitor) finish(state deployment.State, reason, detail string) {
	m.mu.Lock()
	if m.status.State.IsTerminal() {
		m.mu.Unlock()
		return
	}
	m.status.State = state
	m.status.Reason = reason
	m.status.Detail = detail
	m.status.Ended = m.config.Clock.Now()
	m.mu.Unlock()

	m.config.Logger.Infof("deployment %s: %s", m.config.Request.Resource, state)
	m.emit(state, detail)
}

// emit sends one progress event. Reporting must never fail a deployment,
// so panics from a misbehaving sink are swallowed.
func (m *Monitor) emit(state deployment.State, detail string) {
	defer func() {
		if r := recover(); r != nil {
			m.config.Logger.Warningf("reporting sink panicked: %v", r)
		}
	}()
	m.mu.Lock()
	attempt := m.status.Attempts
	m.mu.Unlock()
	m.config.Sink.Emit(deployment.Event{
		HandleID: m.config.ID,
		State:    state,
		Elapsed:  m.config.Clock.Now().Sub(m.started),
		Attempt:  attempt,
		Detail:   detail,
	})
}
