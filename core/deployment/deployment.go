// Copyright 2025 Homestack Developers
// Licensed under the AGPLv3, see LICENCE file for details.

// Package deployment holds the domain types shared by the deployment
// monitoring subsystem: the request submitted to the cloud provider, the
// status record maintained by a monitor, and the interfaces through which
// the subsystem talks to its collaborators.
package deployment

import (
	"fmt"
	"time"

	"github.com/juju/errors"
)

const (
	// DefaultPollInterval is how often a monitor probes the provider
	// for the state of a deployment unless the request says otherwise.
	DefaultPollInterval = 10 * time.Second

	// DefaultMaxDuration bounds how long a monitor will track a single
	// deployment before giving up. Slow resource types (VPN gateways in
	// particular) may need this raised on the request.
	DefaultMaxDuration = 30 * time.Minute
)

// Resource identifies the thing being deployed: a provider resource type,
// a name, and the resource group it lives in.
type Resource struct {
	Type  string
	Name  string
	Group string
}

// Validate returns an error satisfying errors.IsNotValid if the resource
// identifier is incomplete.
func (r Resource) Validate() error {
	if r.Type == "" {
		return errors.NotValidf("empty resource type")
	}
	if r.Name == "" {
		return errors.NotValidf("empty resource name")
	}
	if r.Group == "" {
		return errors.NotValidf("empty resource group")
	}
	return nil
}

// String is the canonical identifier used in logs and events.
func (r Resource) String() string {
	return fmt.Sprintf("%s/%s@%s", r.Type, r.Name, r.Group)
}

// Request describes one deployment to be submitted and tracked. It is
// immutable once handed to the registry; monitors never modify it.
type Request struct {
	// Resource identifies what is being deployed.
	Resource Resource

	// Template is the compiled provider template body.
	Template map[string]any

	// Parameters are the template parameter values, unwrapped.
	Parameters map[string]any

	// PollInterval is the monitor tick interval.
	PollInterval time.Duration

	// MaxDuration is the wall-clock budget for the whole deployment.
	MaxDuration time.Duration
}

// WithDefaults returns a copy of the request with zero-valued tunables
// replaced by the package defaults.
func (req Request) WithDefaults() Request {
	if req.PollInterval == 0 {
		req.PollInterval = DefaultPollInterval
	}
	if req.MaxDuration == 0 {
		req.MaxDuration = DefaultMaxDuration
	}
	return req
}

// Validate fails fast, before any provider call is made, if the request
// is malformed. The returned error satisfies errors.IsNotValid.
func (req Request) Validate() error {
	if err := req.Resource.Validate(); err != nil {
		return errors.Trace(err)
	}
	if len(req.Template) == 0 {
		return errors.NotValidf("empty deployment template")
	}
	if req.PollInterval <= 0 {
		return errors.NotValidf("poll interval %v", req.PollInterval)
	}
	if req.MaxDuration <= 0 {
		return errors.NotValidf("max duration %v", req.MaxDuration)
	}
	return nil
}

// Submission is the immediate result of handing a request to the provider.
type Submission struct {
	// OperationRef is the provider's reference for the accepted
	// operation, when it supplies one.
	OperationRef string
}
