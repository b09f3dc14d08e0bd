// Copyright 2025 Homestack Developers
// Licensed under the AGPLv3, see LICENCE file for details.

package deployment

import (
	"context"
)

// ProbeOutcome classifies a provider-reported deployment state.
type ProbeOutcome string

const (
	// OutcomeProvisioning means the provider is still working.
	OutcomeProvisioning ProbeOutcome = "provisioning"

	// OutcomeSucceeded means the deployment completed.
	OutcomeSucceeded ProbeOutcome = "succeeded"

	// OutcomeFailed means the provider definitively rejected or rolled
	// back the deployment. This is a property of the deployment, not of
	// the status query: a failed query is an error return from Probe,
	// never an OutcomeFailed result.
	OutcomeFailed ProbeOutcome = "failed"
)

// ProbeResult is a successful observation of deployment state.
type ProbeResult struct {
	Outcome ProbeOutcome

	// ProviderState is the raw state string the provider reported.
	ProviderState string

	// Detail carries provider-supplied context, notably the verbatim
	// failure reason for OutcomeFailed.
	Detail string
}

// Prober queries the current provisioning state of a resource. Probe must
// be idempotent and side-effect free; it is called arbitrarily many times.
// A non-nil error means the query itself failed and the deployment state is
// unknown (a transient error); it never means the deployment failed.
type Prober interface {
	Probe(ctx context.Context, res Resource) (ProbeResult, error)
}

// Submitter issues exactly one provisioning call for a request. It does
// not poll or wait for the operation to make progress. A synchronous
// provider rejection is reported as an error satisfying ErrValidationFailed;
// a malformed request fails with a not-valid error before any network call.
type Submitter interface {
	Submit(ctx context.Context, req Request) (Submission, error)
}
