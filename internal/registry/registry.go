// Copyright 2025 Homestack Developers
// Licensed under the AGPLv3, see LICENCE file for details.

// Package registry owns the set of concurrently running deployment
// monitors. It bounds how many may run at once, hands out handles for
// querying and cancelling background deployments, and evicts terminal
// entries so a long interactive session does not grow without bound.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/naturalsort"
	"github.com/juju/worker/v4/catacomb"

	"github.com/homestack/azdeploy/core/deployment"
	"github.com/homestack/azdeploy/internal/monitor"
)

const (
	// DefaultMaxConcurrent bounds how many monitors may run at once.
	DefaultMaxConcurrent = 5

	// DefaultEvictionGrace is how long a terminal monitor's entry
	// remains queryable before it is removed from the registry.
	DefaultEvictionGrace = 5 * time.Minute
)

// ErrShuttingDown is returned by submissions that arrive while the
// registry is being killed.
const ErrShuttingDown = errors.ConstError("deployment registry shutting down")

// Logger represents the methods used by the registry to log information.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warningf(string, ...interface{})
}

// Config holds the collaborators and tunables for a Registry.
type Config struct {
	// Submitter issues provisioning calls.
	Submitter deployment.Submitter

	// Prober observes deployment state. It should already wrap its
	// transient-failure retry policy (see internal/probing).
	Prober deployment.Prober

	// Sink receives progress events from every monitor.
	Sink deployment.Sink

	Clock  clock.Clock
	Logger Logger

	// MaxConcurrent bounds running monitors; DefaultMaxConcurrent when
	// zero.
	MaxConcurrent int

	// UnreachableTicks is passed through to each monitor.
	UnreachableTicks int

	// EvictionGrace is how long terminal entries stay queryable;
	// DefaultEvictionGrace when zero.
	EvictionGrace time.Duration
}

// Validate ensures that the config values are valid.
func (c Config) Validate() error {
	if c.Submitter == nil {
		return errors.NotValidf("nil Submitter")
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
	if c.MaxConcurrent < 0 {
		return errors.NotValidf("negative MaxConcurrent")
	}
	if c.EvictionGrace < 0 {
		return errors.NotValidf("negative EvictionGrace")
	}
	return nil
}

// Registry is the process-wide monitor pool. It implements worker.Worker;
// killing it stops every monitor it owns.
type Registry struct {
	catacomb catacomb.Catacomb
	config   Config

	// slots bounds concurrently running monitors. A slot is held from
	// submission until the monitor reaches a terminal state.
	slots chan struct{}

	mu       sync.Mutex
	monitors map[string]*monitor.Monitor
	lastID   uint64
}

// New returns a running Registry.
func New(config Config) (*Registry, error) {
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = DefaultMaxConcurrent
	}
	if config.EvictionGrace == 0 {
		config.EvictionGrace = DefaultEvictionGrace
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	r := &Registry{
		config:   config,
		slots:    make(chan struct{}, config.MaxConcurrent),
		monitors: make(map[string]*monitor.Monitor),
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &r.catacomb,
		Work: r.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return r, nil
}

// Kill is part of the worker.Worker interface.
func (r *Registry) Kill() {
	r.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (r *Registry) Wait() error {
	return r.catacomb.Wait()
}

func (r *Registry) loop() error {
	<-r.catacomb.Dying()
	return r.catacomb.ErrDying()
}

// StartForeground submits a deployment and blocks the caller until its
// monitor reaches a terminal state, returning the final snapshot. When the
// pool is saturated it waits for a slot; the wait is abandoned if ctx is
// cancelled or the registry shuts down. Waiting never blocks other
// monitors' progress.
func (r *Registry) StartForeground(ctx context.Context, req deployment.Request) (deployment.Status, error) {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return deployment.Status{}, errors.Trace(err)
	}
	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		return deployment.Status{}, errors.Trace(ctx.Err())
	case <-r.catacomb.Dying():
		return deployment.Status{}, ErrShuttingDown
	}
	m, err := r.start(ctx, req)
	if err != nil {
		return deployment.Status{}, errors.Trace(err)
	}
	// Waiting on this one monitor; other monitors are unaffected.
	_ = m.Wait()
	return m.Status(), nil
}

// StartBackground submits a deployment and returns immediately with a
// handle. When the pool is saturated the submission is rejected with a
// quota error rather than queued.
func (r *Registry) StartBackground(ctx context.Context, req deployment.Request) (*Handle, error) {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	select {
	case <-r.catacomb.Dying():
		return nil, ErrShuttingDown
	default:
	}
	select {
	case r.slots <- struct{}{}:
	default:
		return nil, errors.QuotaLimitExceededf("%d deployments already running", cap(r.slots))
	}
	m, err := r.start(ctx, req)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Handle{id: m.Status().ID, registry: r}, nil
}

// start submits the request and registers a monitor for it. The caller
// must already hold a slot; start owns it from here, releasing it on
// error. Once a monitor exists, its completion hook does the releasing.
func (r *Registry) start(ctx context.Context, req deployment.Request) (*monitor.Monitor, error) {
	submission, err := r.config.Submitter.Submit(ctx, req)
	if err != nil {
		<-r.slots
		return nil, errors.Trace(err)
	}

	r.mu.Lock()
	r.lastID++
	id := fmt.Sprintf("d-%d", r.lastID)
	r.mu.Unlock()

	m, err := monitor.New(monitor.Config{
		ID:               id,
		Request:          req,
		OperationRef:     submission.OperationRef,
		Prober:           r.config.Prober,
		Sink:             r.config.Sink,
		Clock:            r.config.Clock,
		Logger:           r.config.Logger,
		UnreachableTicks: r.config.UnreachableTicks,
		OnDone:           r.monitorDone,
	})
	if err != nil {
		<-r.slots
		return nil, errors.Trace(err)
	}
	if err := r.catacomb.Add(m); err != nil {
		// The monitor's completion hook releases the slot.
		m.Kill()
		_ = m.Wait()
		return nil, errors.Trace(err)
	}

	r.mu.Lock()
	r.monitors[id] = m
	r.mu.Unlock()

	r.config.Logger.Infof("tracking deployment %s as %s (operation %q)", req.Resource, id, submission.OperationRef)
	return m, nil
}

// monitorDone releases the terminal monitor's slot and schedules eviction
// of its registry entry after the grace period.
func (r *Registry) monitorDone(id string) {
	<-r.slots
	r.config.Clock.AfterFunc(r.config.EvictionGrace, func() {
		r.evict(id)
	})
}

func (r *Registry) evict(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.monitors[id]; ok {
		delete(r.monitors, id)
		r.config.Logger.Debugf("evicted deployment %s", id)
	}
}

// Status returns the latest snapshot for the given handle id. It never
// blocks. Unknown (including evicted) ids return a not-found error.
func (r *Registry) Status(id string) (deployment.Status, error) {
	r.mu.Lock()
	m, ok := r.monitors[id]
	r.mu.Unlock()
	if !ok {
		return deployment.Status{}, errors.NotFoundf("deployment %q", id)
	}
	return m.Status(), nil
}

// Cancel requests cooperative cancellation of the monitor with the given
// id. It returns true if the monitor was live and the request was
// accepted, false if the monitor was already terminal or unknown.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	m, ok := r.monitors[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return m.Cancel()
}

// ListActive returns handles for all non-terminal monitors, in natural id
// order.
func (r *Registry) ListActive() []*Handle {
	r.mu.Lock()
	ids := make([]string, 0, len(r.monitors))
	for id, m := range r.monitors {
		if m.Status().State.IsTerminal() {
			continue
		}
		ids = append(ids, id)
	}
	r.mu.Unlock()

	naturalsort.Sort(ids)
	handles := make([]*Handle, len(ids))
	for i, id := range ids {
		handles[i] = &Handle{id: id, registry: r}
	}
	return handles
}

// Handle is the caller-visible token for one registered monitor. Handles
// are only valid within the owning process.
type Handle struct {
	id       string
	registry *Registry
}

// ID returns the process-unique identifier for the monitor.
func (h *Handle) ID() string {
	return h.id
}

// Status returns the latest snapshot for this handle.
func (h *Handle) Status() (deployment.Status, error) {
	return h.registry.Status(h.id)
}

// Cancel requests cooperative cancellation.
func (h *Handle) Cancel() bool {
	return h.registry.Cancel(h.id)
}
