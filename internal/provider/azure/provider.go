// Copyright 2025 Homestack Developers
// Licensed under the AGPLv3, see LICENCE file for details.

// Package azure submits deployments to the Azure Resource Manager and
// answers status probes against it. Submission issues a single
// CreateOrUpdate call and deliberately discards the SDK poller; all
// progress tracking happens through Probe so that the polling cadence
// stays under the monitor's control.
package azure

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/juju/errors"

	"github.com/homestack/azdeploy/core/deployment"
)

// Logger is the subset of loggo used by this package.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
}

// deploymentsAPI is the slice of armresources.DeploymentsClient the
// provider needs. Tests substitute a stub.
type deploymentsAPI interface {
	BeginCreateOrUpdate(ctx context.Context, resourceGroupName string, deploymentName string, parameters armresources.Deployment, options *armresources.DeploymentsClientBeginCreateOrUpdateOptions) (*runtime.Poller[armresources.DeploymentsClientCreateOrUpdateResponse], error)
	Get(ctx context.Context, resourceGroupName string, deploymentName string, options *armresources.DeploymentsClientGetOptions) (armresources.DeploymentsClientGetResponse, error)
}

// Config holds the dependencies of a Provider.
type Config struct {
	// SubscriptionID is the Azure subscription deployments go to.
	SubscriptionID string

	// Credential authenticates ARM calls.
	Credential azcore.TokenCredential

	// ClientOptions, if set, customise the ARM client (cloud
	// configuration, retry policy, transport). Nil means SDK defaults.
	ClientOptions *arm.ClientOptions

	// States overrides the provisioning state classification.
	// Nil means DefaultStateMap.
	States StateMap

	Logger Logger
}

// Validate checks the configuration is complete.
func (cfg Config) Validate() error {
	if cfg.SubscriptionID == "" {
		return errors.NotValidf("empty SubscriptionID")
	}
	if cfg.Credential == nil {
		return errors.NotValidf("nil Credential")
	}
	if cfg.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Provider talks to the Azure Resource Manager deployments API. It
// implements both deployment.Submitter and deployment.Prober.
type Provider struct {
	deployments deploymentsAPI
	states      StateMap
	logger      Logger
}

// NewProvider builds a Provider from config.
func NewProvider(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	client, err := armresources.NewDeploymentsClient(cfg.SubscriptionID, cfg.Credential, cfg.ClientOptions)
	if err != nil {
		return nil, errors.Annotate(err, "creating deployments client")
	}
	states := cfg.States
	if states == nil {
		states = DefaultStateMap()
	}
	return &Provider{
		deployments: client,
		states:      states,
		logger:      cfg.Logger,
	}, nil
}

// Submit issues exactly one CreateOrUpdate for the request and returns
// without waiting for the operation to make progress. The returned
// submission names the ARM deployment so a later Probe can find it.
func (p *Provider) Submit(ctx context.Context, req deployment.Request) (deployment.Submission, error) {
	if err := req.Validate(); err != nil {
		return deployment.Submission{}, errors.Trace(err)
	}
	name := deploymentName(req.Resource)
	p.logger.Debugf("submitting deployment %q to resource group %q", name, req.Resource.Group)

	_, err := p.deployments.BeginCreateOrUpdate(ctx, req.Resource.Group, name, armresources.Deployment{
		Properties: &armresources.DeploymentProperties{
			Template:   req.Template,
			Parameters: wrapParameters(req.Parameters),
			Mode:       to.Ptr(armresources.DeploymentModeIncremental),
		},
	}, nil)
	if err != nil {
		if isRejection(err) {
			return deployment.Submission{}, errors.WithType(
				errors.Annotatef(err, "deployment %q", name), deployment.ErrValidationFailed)
		}
		return deployment.Submission{}, errors.Annotatef(err, "submitting deployment %q", name)
	}
	p.logger.Infof("deployment %q accepted for %s", name, req.Resource)
	return deployment.Submission{OperationRef: name}, nil
}

// Probe queries the provisioning state of the resource's deployment.
// Errors, including a 404 in the window before ARM has made a freshly
// accepted deployment visible, mean the state is unknown this tick;
// a determination about the deployment itself always comes back as a
// result, never as an error.
func (p *Provider) Probe(ctx context.Context, res deployment.Resource) (deployment.ProbeResult, error) {
	name := deploymentName(res)
	resp, err := p.deployments.Get(ctx, res.Group, name, nil)
	if err != nil {
		if isNotFound(err) {
			return deployment.ProbeResult{}, errors.Annotatef(err, "deployment %q not yet visible", name)
		}
		return deployment.ProbeResult{}, errors.Annotatef(err, "querying deployment %q", name)
	}
	props := resp.Properties
	if props == nil || props.ProvisioningState == nil {
		return deployment.ProbeResult{}, errors.Errorf("deployment %q has no provisioning state", name)
	}
	state := string(*props.ProvisioningState)
	result := deployment.ProbeResult{
		Outcome:       p.states.Classify(state),
		ProviderState: state,
	}
	if result.Outcome == deployment.OutcomeFailed {
		result.Detail = failureDetail(props.Error, state)
	}
	return result, nil
}

// deploymentName derives the ARM deployment name for a resource. The
// name is a pure function of the resource identity so that Probe can
// locate the deployment without any shared state with Submit.
func deploymentName(res deployment.Resource) string {
	kind := res.Type
	if i := strings.LastIndex(kind, "/"); i >= 0 {
		kind = kind[i+1:]
	}
	return strings.ToLower(kind + "-" + res.Name)
}

// wrapParameters converts plain parameter values into the
// {"name": {"value": v}} envelope ARM expects.
func wrapParameters(params map[string]any) map[string]any {
	if len(params) == 0 {
		return nil
	}
	wrapped := make(map[string]any, len(params))
	for k, v := range params {
		wrapped[k] = map[string]any{"value": v}
	}
	return wrapped
}

// failureDetail renders the provider's own failure report verbatim,
// falling back to the bare state when ARM supplied no error body.
func failureDetail(errResp *armresources.ErrorResponse, state string) string {
	if errResp == nil {
		return state
	}
	code := deref(errResp.Code)
	message := deref(errResp.Message)
	switch {
	case code != "" && message != "":
		return fmt.Sprintf("%s: %s", code, message)
	case message != "":
		return message
	case code != "":
		return code
	}
	return state
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
