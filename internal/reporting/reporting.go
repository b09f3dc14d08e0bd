// Copyright 2025 Homestack Developers
// Licensed under the AGPLv3, see LICENCE file for details.

// Package reporting provides the default progress-event sink, which writes
// monitor events to a loggo logger.
package reporting

import (
	"time"

	"github.com/juju/loggo/v2"

	"github.com/homestack/azdeploy/core/deployment"
)

// LogSink writes progress events to a logger. Terminal failures are logged
// at warning level, everything else at info.
type LogSink struct {
	logger loggo.Logger
}

// NewLogSink returns a sink writing to the given logger.
func NewLogSink(logger loggo.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Emit implements deployment.Sink.
func (s *LogSink) Emit(ev deployment.Event) {
	level := loggo.INFO
	switch ev.State {
	case deployment.Failed, deployment.TimedOut:
		level = loggo.WARNING
	}
	detail := ""
	if ev.Detail != "" {
		detail = ": " + ev.Detail
	}
	s.logger.Logf(level, "%s %s after %s (attempt %d)%s",
		ev.HandleID, ev.State, ev.Elapsed.Round(time.Millisecond), ev.Attempt, detail)
}
