// Copyright 2025 Homestack Developers
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gosuri/uitable"
	"github.com/juju/ansiterm"
	"github.com/juju/errors"

	"github.com/homestack/azdeploy/core/deployment"
	"github.com/homestack/azdeploy/internal/registry"
	"github.com/homestack/azdeploy/internal/settings"
)

const consoleHelp = `Commands:
  deploy <type> <name> <template.json> [key=value ...] [--group <g>] [--background]
      Submit a deployment and wait for it, or track it in the
      background with --background.
  status <id>      Show the latest snapshot for a deployment.
  list             List deployments still being tracked.
  cancel <id>      Stop tracking a deployment.
  help             Show this help.
  quit             Stop tracking everything and exit.
`

// stateColors drives the rendering of deployment states on capable
// terminals.
var stateColors = map[deployment.State]*ansiterm.Context{
	deployment.Pending:   ansiterm.Foreground(ansiterm.Default),
	deployment.Running:   ansiterm.Foreground(ansiterm.BrightBlue),
	deployment.Succeeded: ansiterm.Foreground(ansiterm.Green),
	deployment.Failed:    ansiterm.Foreground(ansiterm.BrightRed),
	deployment.TimedOut:  ansiterm.Foreground(ansiterm.Yellow),
	deployment.Cancelled: ansiterm.Foreground(ansiterm.Yellow),
}

// ConsoleConfig holds the collaborators of a Console.
type ConsoleConfig struct {
	Registry *registry.Registry
	Settings settings.Settings
	Stdin    io.Reader
	Stdout   io.Writer
}

// Console is the interactive command loop.
type Console struct {
	config ConsoleConfig
	out    *ansiterm.Writer
}

// NewConsole builds a console over the given registry.
func NewConsole(config ConsoleConfig) *Console {
	return &Console{
		config: config,
		out:    ansiterm.NewWriter(config.Stdout),
	}
}

// Run reads commands until EOF or quit. Command errors are reported
// and the loop continues; only input failure ends the session early.
func (con *Console) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(con.config.Stdin)
	for {
		fmt.Fprint(con.config.Stdout, "azdeploy> ")
		if !scanner.Scan() {
			fmt.Fprintln(con.config.Stdout)
			return errors.Trace(scanner.Err())
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		done, err := con.dispatch(ctx, fields[0], fields[1:])
		if err != nil {
			fmt.Fprintln(con.config.Stdout, "error:", err)
		}
		if done {
			return nil
		}
	}
}

func (con *Console) dispatch(ctx context.Context, command string, args []string) (done bool, err error) {
	switch command {
	case "deploy":
		return false, con.deploy(ctx, args)
	case "status":
		return false, con.status(args)
	case "list":
		return false, con.list(args)
	case "cancel":
		return false, con.cancel(args)
	case "help":
		fmt.Fprint(con.config.Stdout, consoleHelp)
		return false, nil
	case "quit", "exit":
		return true, nil
	}
	return false, errors.Errorf("unknown command %q; try help", command)
}

func (con *Console) deploy(ctx context.Context, args []string) error {
	req, background, err := parseDeploy(args, con.config.Settings)
	if err != nil {
		return errors.Trace(err)
	}
	if background {
		handle, err := con.config.Registry.StartBackground(ctx, req)
		if err != nil {
			return errors.Trace(err)
		}
		fmt.Fprintf(con.config.Stdout, "%s tracking %s\n", handle.ID(), req.Resource)
		return nil
	}
	fmt.Fprintf(con.config.Stdout, "deploying %s\n", req.Resource)
	status, err := con.config.Registry.StartForeground(ctx, req)
	if err != nil {
		return errors.Trace(err)
	}
	con.printStatus(status)
	return nil
}

func (con *Console) status(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: status <id>")
	}
	status, err := con.config.Registry.Status(args[0])
	if err != nil {
		return errors.Trace(err)
	}
	con.printStatus(status)
	return nil
}

func (con *Console) list(args []string) error {
	if len(args) != 0 {
		return errors.New("usage: list")
	}
	handles := con.config.Registry.ListActive()
	if len(handles) == 0 {
		fmt.Fprintln(con.config.Stdout, "no active deployments")
		return nil
	}
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("ID", "RESOURCE", "STATE", "ATTEMPTS", "ELAPSED")
	now := time.Now()
	for _, h := range handles {
		status, err := h.Status()
		if err != nil {
			continue
		}
		table.AddRow(status.ID, status.Resource.String(), string(status.State),
			status.Attempts, now.Sub(status.Started).Round(time.Second))
	}
	fmt.Fprintln(con.config.Stdout, table)
	return nil
}

func (con *Console) cancel(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: cancel <id>")
	}
	if !con.config.Registry.Cancel(args[0]) {
		return errors.Errorf("%s is not being tracked", args[0])
	}
	fmt.Fprintf(con.config.Stdout, "%s will stop at its next poll\n", args[0])
	return nil
}

func (con *Console) printStatus(status deployment.Status) {
	fmt.Fprintf(con.out, "%s %s ", status.ID, status.Resource)
	colorForState(status.State).Fprintf(con.out, "%s", string(status.State))
	if status.ProviderState != "" {
		fmt.Fprintf(con.out, " (provider: %s)", status.ProviderState)
	}
	if status.Reason != "" {
		fmt.Fprintf(con.out, " reason: %s", status.Reason)
	}
	if status.Detail != "" {
		fmt.Fprintf(con.out, ": %s", status.Detail)
	}
	fmt.Fprintln(con.out)
}

func colorForState(state deployment.State) *ansiterm.Context {
	if c, ok := stateColors[state]; ok {
		return c
	}
	return ansiterm.Foreground(ansiterm.Default)
}

// parseDeploy turns console arguments into a deployment request.
// Positional arguments are the resource type, resource name and
// template path; key=value pairs become template parameters.
func parseDeploy(args []string, cfg settings.Settings) (deployment.Request, bool, error) {
	var (
		positional []string
		params     = map[string]any{}
		group      = cfg.ResourceGroup
		background bool
	)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--background":
			background = true
		case arg == "--group":
			if i+1 >= len(args) {
				return deployment.Request{}, false, errors.New("--group needs a value")
			}
			i++
			group = args[i]
		case strings.HasPrefix(arg, "--group="):
			group = strings.TrimPrefix(arg, "--group=")
		case strings.HasPrefix(arg, "--"):
			return deployment.Request{}, false, errors.Errorf("unknown option %q", arg)
		case strings.Contains(arg, "="):
			key, value, _ := strings.Cut(arg, "=")
			if key == "" {
				return deployment.Request{}, false, errors.Errorf("malformed parameter %q", arg)
			}
			params[key] = value
		default:
			positional = append(positional, arg)
		}
	}
	if len(positional) != 3 {
		return deployment.Request{}, false, errors.New(
			"usage: deploy <type> <name> <template.json> [key=value ...] [--group <g>] [--background]")
	}
	template, err := readTemplate(positional[2])
	if err != nil {
		return deployment.Request{}, false, errors.Trace(err)
	}
	if len(params) == 0 {
		params = nil
	}
	req := deployment.Request{
		Resource: deployment.Resource{
			Type:  positional[0],
			Name:  positional[1],
			Group: group,
		},
		Template:     template,
		Parameters:   params,
		PollInterval: cfg.PollInterval,
		MaxDuration:  cfg.MaxDuration,
	}
	if err := req.Validate(); err != nil {
		return deployment.Request{}, false, errors.Trace(err)
	}
	return req, background, nil
}

// readTemplate loads an ARM template body from disk.
func readTemplate(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "reading template")
	}
	var template map[string]any
	if err := json.Unmarshal(data, &template); err != nil {
		return nil, errors.Annotatef(err, "template %q", path)
	}
	return template, nil
}
