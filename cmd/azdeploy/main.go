// Copyright 2025 Homestack Developers
// Licensed under the AGPLv3, see LICENCE file for details.

// azdeploy submits Azure Resource Manager deployments and tracks them
// to completion from an interactive console. Deployments run against
// the subscription named in the configuration file; credentials come
// from the default Azure credential chain (environment, managed
// identity, CLI).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
	"github.com/juju/utils/v4"

	"github.com/homestack/azdeploy/internal/probing"
	"github.com/homestack/azdeploy/internal/provider/azure"
	"github.com/homestack/azdeploy/internal/registry"
	"github.com/homestack/azdeploy/internal/reporting"
	"github.com/homestack/azdeploy/internal/settings"
)

var logger = loggo.GetLogger("azdeploy")

const defaultConfigPath = "~/.azdeploy.yaml"

func main() {
	os.Exit(Main(os.Args))
}

// Main runs the tool and returns the process exit code.
func Main(args []string) int {
	f := gnuflag.NewFlagSetWithFlagKnownAs("azdeploy", gnuflag.ContinueOnError, "option")
	configPath := f.String("config", defaultConfigPath, "path to the configuration file")
	debug := f.Bool("debug", false, "log at DEBUG level")
	quiet := f.Bool("quiet", false, "only log warnings and errors")
	f.SetOutput(os.Stderr)
	if err := f.Parse(true, args[1:]); err != nil {
		if err == gnuflag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	if err := configureLogging(*debug, *quiet); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func configureLogging(debug, quiet bool) error {
	level := "INFO"
	switch {
	case debug:
		level = "DEBUG"
	case quiet:
		level = "WARNING"
	}
	return errors.Trace(loggo.ConfigureLoggers("<root>=WARNING;azdeploy=" + level))
}

func run(configPath string) error {
	path, err := utils.NormalizePath(configPath)
	if err != nil {
		return errors.Trace(err)
	}
	cfg, err := settings.ReadFile(path)
	if err != nil {
		return errors.Trace(err)
	}
	if cfg.SubscriptionID == "" {
		return errors.NotValidf("configuration %q without subscription-id", path)
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return errors.Annotate(err, "building Azure credential")
	}
	provider, err := azure.NewProvider(azure.Config{
		SubscriptionID: cfg.SubscriptionID,
		Credential:     cred,
		Logger:         logger.Child("azure"),
	})
	if err != nil {
		return errors.Trace(err)
	}
	retrier, err := probing.NewRetrier(probing.RetrierConfig{
		Prober: provider,
		Policy: probing.Policy{
			Attempts:  cfg.MaxTransientRetries,
			BaseDelay: cfg.BackoffBase,
		},
		Clock:  clock.WallClock,
		Logger: logger.Child("probing"),
	})
	if err != nil {
		return errors.Trace(err)
	}
	reg, err := registry.New(registry.Config{
		Submitter:        provider,
		Prober:           retrier,
		Sink:             reporting.NewLogSink(logger.Child("deployments")),
		Clock:            clock.WallClock,
		Logger:           logger.Child("registry"),
		MaxConcurrent:    cfg.MaxConcurrentMonitors,
		UnreachableTicks: cfg.ProbeUnreachableTicks,
		EvictionGrace:    cfg.EvictionGrace,
	})
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		reg.Kill()
		if err := reg.Wait(); err != nil {
			logger.Warningf("stopping deployment registry: %v", err)
		}
	}()

	console := NewConsole(ConsoleConfig{
		Registry: reg,
		Settings: cfg,
		Stdin:    os.Stdin,
		Stdout:   os.Stdout,
	})
	return errors.Trace(console.Run(context.Background()))
}
