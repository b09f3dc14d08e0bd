// Copyright 2025 Homestack Developers
// Licensed under the AGPLv3, see LICENCE file for details.

package deployment

import (
	"time"
)

// Event is one progress report from a monitor. One event is emitted per
// completed tick carrying the post-tick state; a terminal state is emitted
// exactly once.
type Event struct {
	HandleID string
	State    State
	Elapsed  time.Duration
	Attempt  int
	Detail   string
}

// Sink receives progress events. Emit is fire-and-forget: implementations
// must not block, and failures to emit are swallowed by the caller, since
// reporting must never fail a deployment.
type Sink interface {
	Emit(Event)
}
