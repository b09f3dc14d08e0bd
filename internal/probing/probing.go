// Copyright 2025 Homestack Developers
// Licensed under the AGPLv3, see LICENCE file for details.

// Package probing wraps a status prober with bounded retry so that
// transient query failures (throttling, network blips) are absorbed before
// they ever reach a deployment monitor.
package probing

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"

	"github.com/homestack/azdeploy/core/deployment"
)

const (
	// DefaultAttempts is the probe retry budget within a single tick.
	DefaultAttempts = 3

	// DefaultBaseDelay is the initial backoff between probe retries.
	// Subsequent delays double, capped at DefaultMaxDelay.
	DefaultBaseDelay = time.Second

	// DefaultMaxDelay caps the exponential backoff.
	DefaultMaxDelay = 30 * time.Second
)

// Logger represents the methods used by the retrier to log information.
type Logger interface {
	Debugf(string, ...interface{})
}

// Policy bounds the retry behavior for one probe call.
type Policy struct {
	// Attempts is the total number of probe calls made before the last
	// transient error is handed back to the caller.
	Attempts int

	// BaseDelay is the delay before the first retry; each subsequent
	// delay doubles.
	BaseDelay time.Duration

	// MaxDelay caps the doubling.
	MaxDelay time.Duration
}

// WithDefaults returns a copy of the policy with zero values filled in.
func (p Policy) WithDefaults() Policy {
	if p.Attempts == 0 {
		p.Attempts = DefaultAttempts
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	return p
}

// Validate returns an error if the policy cannot drive a retry loop.
func (p Policy) Validate() error {
	if p.Attempts < 1 {
		return errors.NotValidf("attempts %d", p.Attempts)
	}
	if p.BaseDelay < 0 {
		return errors.NotValidf("base delay %v", p.BaseDelay)
	}
	if p.MaxDelay < 0 {
		return errors.NotValidf("max delay %v", p.MaxDelay)
	}
	return nil
}

// RetrierConfig holds the dependencies of a Retrier.
type RetrierConfig struct {
	Prober deployment.Prober
	Policy Policy
	Clock  clock.Clock
	Logger Logger
}

// Validate ensures the config values are usable.
func (c RetrierConfig) Validate() error {
	if c.Prober == nil {
		return errors.NotValidf("nil Prober")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if err := c.Policy.Validate(); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// Retrier is a deployment.Prober that retries transient query failures of
// an underlying prober with exponential backoff. Succeeded, Failed and
// still-provisioning observations pass through untouched; only error
// returns are retried. When the budget is exhausted the last transient
// error is returned as-is rather than being escalated, because an
// unreachable status endpoint is not proof that the deployment failed.
type Retrier struct {
	config RetrierConfig
}

// NewRetrier returns a Retrier wrapping config.Prober.
func NewRetrier(config RetrierConfig) (*Retrier, error) {
	config.Policy = config.Policy.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Retrier{config: config}, nil
}

// Probe implements deployment.Prober.
func (r *Retrier) Probe(ctx context.Context, res deployment.Resource) (deployment.ProbeResult, error) {
	var result deployment.ProbeResult
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			var err error
			result, err = r.config.Prober.Probe(ctx, res)
			return err
		},
		Attempts:    r.config.Policy.Attempts,
		Delay:       r.config.Policy.BaseDelay,
		MaxDelay:    r.config.Policy.MaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       r.config.Clock,
		Stop:        ctx.Done(),
		NotifyFunc: func(lastError error, attempt int) {
			r.config.Logger.Debugf("status probe of %s failed (attempt %d): %v", res, attempt, lastError)
		},
	})
	if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
		return deployment.ProbeResult{}, errors.Trace(retry.LastError(err))
	}
	if err != nil {
		return deployment.ProbeResult{}, errors.Trace(err)
	}
	return result, nil
}
