// Copyright 2025 Homestack Developers
// Licensed under the AGPLv3, see LICENCE file for details.

// Package settings reads and validates the tool's YAML configuration.
// Every tunable has a default, so an empty document is a valid
// configuration for everything except the Azure connection settings,
// which have no sensible defaults and must be supplied.
package settings

import (
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/juju/schema"
	"gopkg.in/yaml.v3"
)

// Configuration keys. Durations are expressed in the unit named by the
// key so that config files stay plain integers.
const (
	keySubscriptionID        = "subscription-id"
	keyResourceGroup         = "resource-group"
	keyLocation              = "location"
	keyPollIntervalSeconds   = "poll-interval-seconds"
	keyMaxDurationMinutes    = "max-duration-minutes"
	keyMaxConcurrentMonitors = "max-concurrent-monitors"
	keyMaxTransientRetries   = "max-transient-retries"
	keyBackoffBaseMs         = "backoff-base-ms"
	keyProbeUnreachableTicks = "probe-unreachable-ticks"
	keyEvictionGraceMinutes  = "eviction-grace-minutes"
)

var configChecker = schema.StrictFieldMap(
	schema.Fields{
		keySubscriptionID:        schema.String(),
		keyResourceGroup:         schema.String(),
		keyLocation:              schema.String(),
		keyPollIntervalSeconds:   schema.ForceInt(),
		keyMaxDurationMinutes:    schema.ForceInt(),
		keyMaxConcurrentMonitors: schema.ForceInt(),
		keyMaxTransientRetries:   schema.ForceInt(),
		keyBackoffBaseMs:         schema.ForceInt(),
		keyProbeUnreachableTicks: schema.ForceInt(),
		keyEvictionGraceMinutes:  schema.ForceInt(),
	},
	schema.Defaults{
		keySubscriptionID:        schema.Omit,
		keyResourceGroup:         schema.Omit,
		keyLocation:              schema.Omit,
		keyPollIntervalSeconds:   10,
		keyMaxDurationMinutes:    30,
		keyMaxConcurrentMonitors: 5,
		keyMaxTransientRetries:   3,
		keyBackoffBaseMs:         1000,
		keyProbeUnreachableTicks: 3,
		keyEvictionGraceMinutes:  5,
	},
)

// Settings is the validated, typed configuration.
type Settings struct {
	// SubscriptionID, ResourceGroup and Location describe where
	// deployments go. ResourceGroup and Location are defaults only;
	// a request can name its own group.
	SubscriptionID string
	ResourceGroup  string
	Location       string

	// PollInterval is how often a monitor probes the provider.
	PollInterval time.Duration

	// MaxDuration bounds how long a single deployment is tracked.
	MaxDuration time.Duration

	// MaxConcurrentMonitors bounds the number of live monitors.
	MaxConcurrentMonitors int

	// MaxTransientRetries is the in-tick retry budget for a single
	// status query.
	MaxTransientRetries int

	// BackoffBase seeds the exponential in-tick retry backoff.
	BackoffBase time.Duration

	// ProbeUnreachableTicks is how many consecutive whole ticks may
	// fail to reach the provider before the deployment is declared
	// failed.
	ProbeUnreachableTicks int

	// EvictionGrace is how long a finished deployment stays
	// queryable before it is dropped from the registry.
	EvictionGrace time.Duration
}

// Default returns the settings an empty config document yields.
func Default() Settings {
	s, err := Parse(nil)
	if err != nil {
		panic(err)
	}
	return s
}

// Parse validates a YAML configuration document and applies defaults.
// Unknown keys are rejected rather than ignored; a misspelt tunable
// silently falling back to its default is worse than an error.
func Parse(data []byte) (Settings, error) {
	attrs := make(map[string]interface{})
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &attrs); err != nil {
			return Settings{}, errors.Annotate(err, "parsing configuration")
		}
	}
	coerced, err := configChecker.Coerce(attrs, nil)
	if err != nil {
		return Settings{}, errors.Annotate(err, "invalid configuration")
	}
	m := coerced.(map[string]interface{})

	s := Settings{
		SubscriptionID:        optionalString(m, keySubscriptionID),
		ResourceGroup:         optionalString(m, keyResourceGroup),
		Location:              optionalString(m, keyLocation),
		PollInterval:          time.Duration(m[keyPollIntervalSeconds].(int)) * time.Second,
		MaxDuration:           time.Duration(m[keyMaxDurationMinutes].(int)) * time.Minute,
		MaxConcurrentMonitors: m[keyMaxConcurrentMonitors].(int),
		MaxTransientRetries:   m[keyMaxTransientRetries].(int),
		BackoffBase:           time.Duration(m[keyBackoffBaseMs].(int)) * time.Millisecond,
		ProbeUnreachableTicks: m[keyProbeUnreachableTicks].(int),
		EvictionGrace:         time.Duration(m[keyEvictionGraceMinutes].(int)) * time.Minute,
	}
	if err := s.validate(); err != nil {
		return Settings{}, errors.Trace(err)
	}
	return s, nil
}

// ReadFile loads and parses the configuration file at path.
func ReadFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, errors.Annotate(err, "reading configuration")
	}
	s, err := Parse(data)
	if err != nil {
		return Settings{}, errors.Annotatef(err, "configuration file %q", path)
	}
	return s, nil
}

func (s Settings) validate() error {
	if s.PollInterval <= 0 {
		return errors.NotValidf("%s %d", keyPollIntervalSeconds, int64(s.PollInterval/time.Second))
	}
	if s.MaxDuration <= 0 {
		return errors.NotValidf("%s %d", keyMaxDurationMinutes, int64(s.MaxDuration/time.Minute))
	}
	if s.MaxConcurrentMonitors <= 0 {
		return errors.NotValidf("%s %d", keyMaxConcurrentMonitors, s.MaxConcurrentMonitors)
	}
	if s.MaxTransientRetries < 1 {
		return errors.NotValidf("%s %d", keyMaxTransientRetries, s.MaxTransientRetries)
	}
	if s.BackoffBase <= 0 {
		return errors.NotValidf("%s %d", keyBackoffBaseMs, int64(s.BackoffBase/time.Millisecond))
	}
	if s.ProbeUnreachableTicks < 1 {
		return errors.NotValidf("%s %d", keyProbeUnreachableTicks, s.ProbeUnreachableTicks)
	}
	if s.EvictionGrace < 0 {
		return errors.NotValidf("%s %d", keyEvictionGraceMinutes, int64(s.EvictionGrace/time.Minute))
	}
	return nil
}

func optionalString(m map[string]interface{}, key string) string {
	v, ok := m[key].(string)
	if !ok {
		return ""
	}
	return v
}
