// Copyright 2025 Homestack Developers
// Licensed under the AGPLv3, see LICENCE file for details.

package deployment

import (
	"github.com/juju/errors"
)

const (
	// ErrValidationFailed indicates the provider synchronously rejected
	// the submission (bad template syntax, unknown resource type). No
	// monitor is ever started for such a request.
	ErrValidationFailed = errors.ConstError("provider rejected deployment")
)
