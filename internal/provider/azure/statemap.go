// Copyright 2025 Homestack Developers
// Licensed under the AGPLv3, see LICENCE file for details.

package azure

import (
	"strings"

	"github.com/homestack/azdeploy/core/deployment"
)

// StateMap classifies the provisioning state strings reported by the
// Azure Resource Manager into probe outcomes. Keys are compared
// case-insensitively because ARM is not consistent about casing across
// API versions.
type StateMap map[string]deployment.ProbeOutcome

// DefaultStateMap covers the states ARM documents for deployments.
// Anything not listed is treated as still provisioning, so a new state
// introduced by the provider degrades to continued polling rather than
// a spurious failure.
func DefaultStateMap() StateMap {
	return StateMap{
		"succeeded": deployment.OutcomeSucceeded,
		"failed":    deployment.OutcomeFailed,
		"canceled":  deployment.OutcomeFailed,
		"deleted":   deployment.OutcomeFailed,
	}
}

// Classify maps a raw provider state to an outcome. Unknown and empty
// states classify as provisioning.
func (m StateMap) Classify(state string) deployment.ProbeOutcome {
	if outcome, ok := m[strings.ToLower(state)]; ok {
		return outcome
	}
	return deployment.OutcomeProvisioning
}
