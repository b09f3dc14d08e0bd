// Copyright 2025 Homestack Developers
// Licensed under the AGPLv3, see LICENCE file for details.

package azure

import (
	"context"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/homestack/azdeploy/core/deployment"
)

type providerSuite struct {
	testing.IsolationSuite

	api *stubDeploymentsAPI
}

var _ = gc.Suite(&providerSuite{})

func (s *providerSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.api = &stubDeploymentsAPI{}
}

func (s *providerSuite) provider() *Provider {
	return &Provider{
		deployments: s.api,
		states:      DefaultStateMap(),
		logger:      loggo.GetLogger("test.azure"),
	}
}

func (s *providerSuite) request() deployment.Request {
	return deployment.Request{
		Resource: deployment.Resource{
			Type:  "Microsoft.Network/virtualNetworks",
			Name:  "vnet0",
			Group: "homestack",
		},
		Template:   map[string]any{"resources": []any{}},
		Parameters: map[string]any{"addressSpace": "10.0.0.0/16"},
	}.WithDefaults()
}

func (s *providerSuite) TestConfigValidate(c *gc.C) {
	cfg := Config{
		SubscriptionID: "sub-0",
		Credential:     stubCredential{},
		Logger:         loggo.GetLogger("test.azure"),
	}
	c.Assert(cfg.Validate(), jc.ErrorIsNil)

	bad := cfg
	bad.SubscriptionID = ""
	c.Check(cfg.Validate(), jc.ErrorIsNil)
	c.Check(bad.Validate(), jc.ErrorIs, errors.NotValid)

	bad = cfg
	bad.Credential = nil
	c.Check(bad.Validate(), jc.ErrorIs, errors.NotValid)

	bad = cfg
	bad.Logger = nil
	c.Check(bad.Validate(), jc.ErrorIs, errors.NotValid)
}

func (s *providerSuite) TestSubmit(c *gc.C) {
	sub, err := s.provider().Submit(context.Background(), s.request())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(sub.OperationRef, gc.Equals, "virtualnetworks-vnet0")

	c.Assert(s.api.creates, gc.HasLen, 1)
	call := s.api.creates[0]
	c.Check(call.group, gc.Equals, "homestack")
	c.Check(call.name, gc.Equals, "virtualnetworks-vnet0")
	props := call.parameters.Properties
	c.Assert(props, gc.NotNil)
	c.Check(*props.Mode, gc.Equals, armresources.DeploymentModeIncremental)
	c.Check(props.Parameters, jc.DeepEquals, map[string]any{
		"addressSpace": map[string]any{"value": "10.0.0.0/16"},
	})
}

func (s *providerSuite) TestSubmitInvalidRequestFailsFast(c *gc.C) {
	req := s.request()
	req.Template = nil
	_, err := s.provider().Submit(context.Background(), req)
	c.Assert(err, jc.ErrorIs, errors.NotValid)
	c.Check(s.api.creates, gc.HasLen, 0)
}

func (s *providerSuite) TestSubmitRejectionIsValidationFailure(c *gc.C) {
	s.api.createErr = &azcore.ResponseError{
		StatusCode: http.StatusBadRequest,
		ErrorCode:  "InvalidTemplate",
	}
	_, err := s.provider().Submit(context.Background(), s.request())
	c.Assert(err, jc.ErrorIs, deployment.ErrValidationFailed)
}

func (s *providerSuite) TestSubmitServerErrorIsNotValidationFailure(c *gc.C) {
	s.api.createErr = &azcore.ResponseError{
		StatusCode: http.StatusInternalServerError,
	}
	_, err := s.provider().Submit(context.Background(), s.request())
	c.Assert(err, gc.NotNil)
	c.Check(errors.Is(err, deployment.ErrValidationFailed), jc.IsFalse)
}

func (s *providerSuite) TestProbeSucceeded(c *gc.C) {
	s.api.getResponse = getResponse(armresources.ProvisioningStateSucceeded, nil)
	result, err := s.provider().Probe(context.Background(), s.request().Resource)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result.Outcome, gc.Equals, deployment.OutcomeSucceeded)
	c.Check(result.ProviderState, gc.Equals, "Succeeded")
	c.Check(s.api.gets, jc.DeepEquals, []string{"homestack/virtualnetworks-vnet0"})
}

func (s *providerSuite) TestProbeProvisioning(c *gc.C) {
	s.api.getResponse = getResponse(armresources.ProvisioningStateRunning, nil)
	result, err := s.provider().Probe(context.Background(), s.request().Resource)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result.Outcome, gc.Equals, deployment.OutcomeProvisioning)
	c.Check(result.ProviderState, gc.Equals, "Running")
}

func (s *providerSuite) TestProbeFailedCarriesProviderDetail(c *gc.C) {
	s.api.getResponse = getResponse(armresources.ProvisioningStateFailed, &armresources.ErrorResponse{
		Code:    to.Ptr("DeploymentFailed"),
		Message: to.Ptr("resource quota exceeded in region westeurope"),
	})
	result, err := s.provider().Probe(context.Background(), s.request().Resource)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result.Outcome, gc.Equals, deployment.OutcomeFailed)
	c.Check(result.Detail, gc.Equals, "DeploymentFailed: resource quota exceeded in region westeurope")
}

func (s *providerSuite) TestProbeFailedWithoutErrorBody(c *gc.C) {
	s.api.getResponse = getResponse(armresources.ProvisioningStateCanceled, nil)
	result, err := s.provider().Probe(context.Background(), s.request().Resource)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result.Outcome, gc.Equals, deployment.OutcomeFailed)
	c.Check(result.Detail, gc.Equals, "Canceled")
}

func (s *providerSuite) TestProbeQueryFailureIsAnError(c *gc.C) {
	s.api.getErr = &azcore.ResponseError{StatusCode: http.StatusNotFound}
	_, err := s.provider().Probe(context.Background(), s.request().Resource)
	c.Assert(err, gc.NotNil)
}

func (s *providerSuite) TestProbeMissingStateIsAnError(c *gc.C) {
	s.api.getResponse = armresources.DeploymentsClientGetResponse{}
	_, err := s.provider().Probe(context.Background(), s.request().Resource)
	c.Assert(err, gc.ErrorMatches, `deployment "virtualnetworks-vnet0" has no provisioning state`)
}

func (s *providerSuite) TestDeploymentName(c *gc.C) {
	c.Check(deploymentName(deployment.Resource{
		Type: "Microsoft.Network/virtualNetworks", Name: "Core", Group: "g",
	}), gc.Equals, "virtualnetworks-core")
	c.Check(deploymentName(deployment.Resource{
		Type: "storageAccounts", Name: "blobs", Group: "g",
	}), gc.Equals, "storageaccounts-blobs")
}

func (s *providerSuite) TestWrapParameters(c *gc.C) {
	c.Check(wrapParameters(nil), gc.IsNil)
	c.Check(wrapParameters(map[string]any{"a": 1, "b": "x"}), jc.DeepEquals, map[string]any{
		"a": map[string]any{"value": 1},
		"b": map[string]any{"value": "x"},
	})
}

type stateMapSuite struct{}

var _ = gc.Suite(&stateMapSuite{})

func (*stateMapSuite) TestClassify(c *gc.C) {
	states := DefaultStateMap()
	c.Check(states.Classify("Succeeded"), gc.Equals, deployment.OutcomeSucceeded)
	c.Check(states.Classify("succeeded"), gc.Equals, deployment.OutcomeSucceeded)
	c.Check(states.Classify("Failed"), gc.Equals, deployment.OutcomeFailed)
	c.Check(states.Classify("Canceled"), gc.Equals, deployment.OutcomeFailed)
	c.Check(states.Classify("Running"), gc.Equals, deployment.OutcomeProvisioning)
	c.Check(states.Classify("Accepted"), gc.Equals, deployment.OutcomeProvisioning)
	c.Check(states.Classify(""), gc.Equals, deployment.OutcomeProvisioning)
	c.Check(states.Classify("SomeFutureState"), gc.Equals, deployment.OutcomeProvisioning)
}

type errorsSuite struct{}

var _ = gc.Suite(&errorsSuite{})

func (*errorsSuite) TestIsRejection(c *gc.C) {
	c.Check(isRejection(&azcore.ResponseError{StatusCode: http.StatusBadRequest}), jc.IsTrue)
	c.Check(isRejection(&azcore.ResponseError{StatusCode: http.StatusConflict}), jc.IsTrue)
	c.Check(isRejection(&azcore.ResponseError{StatusCode: http.StatusTooManyRequests}), jc.IsFalse)
	c.Check(isRejection(&azcore.ResponseError{StatusCode: http.StatusInternalServerError}), jc.IsFalse)
	c.Check(isRejection(errors.New("dial tcp: i/o timeout")), jc.IsFalse)
	c.Check(isRejection(errors.Annotate(&azcore.ResponseError{
		StatusCode: http.StatusUnauthorized,
	}, "wrapped")), jc.IsTrue)
}

func (*errorsSuite) TestIsNotFound(c *gc.C) {
	c.Check(isNotFound(&azcore.ResponseError{StatusCode: http.StatusNotFound}), jc.IsTrue)
	c.Check(isNotFound(&azcore.ResponseError{StatusCode: http.StatusBadRequest}), jc.IsFalse)
	c.Check(isNotFound(errors.New("boom")), jc.IsFalse)
}

type createCall struct {
	group, name string
	parameters  armresources.Deployment
}

type stubDeploymentsAPI struct {
	creates   []createCall
	createErr error

	gets        []string
	getResponse armresources.DeploymentsClientGetResponse
	getErr      error
}

func (s *stubDeploymentsAPI) BeginCreateOrUpdate(ctx context.Context, group, name string, parameters armresources.Deployment, options *armresources.DeploymentsClientBeginCreateOrUpdateOptions) (*runtime.Poller[armresources.DeploymentsClientCreateOrUpdateResponse], error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.creates = append(s.creates, createCall{group: group, name: name, parameters: parameters})
	return nil, nil
}

func (s *stubDeploymentsAPI) Get(ctx context.Context, group, name string, options *armresources.DeploymentsClientGetOptions) (armresources.DeploymentsClientGetResponse, error) {
	s.gets = append(s.gets, group+"/"+name)
	if s.getErr != nil {
		return armresources.DeploymentsClientGetResponse{}, s.getErr
	}
	return s.getResponse, nil
}

func getResponse(state armresources.ProvisioningState, errResp *armresources.ErrorResponse) armresources.DeploymentsClientGetResponse {
	return armresources.DeploymentsClientGetResponse{
		DeploymentExtended: armresources.DeploymentExtended{
			Properties: &armresources.DeploymentPropertiesExtended{
				ProvisioningState: to.Ptr(state),
				Error:             errResp,
			},
		},
	}
}

type stubCredential struct{}

func (stubCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{}, nil
}
