// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package gateway

import (
	"github.com/fieldlink/device-gateway/backend"
	"github.com/fieldlink/device-gateway/types"
)

// processUpload validates and routes one uploaded message and settles its
// delivery. Validation failures never reach a downstream sender.
func (g *Gateway) processUpload(ul *uploadLink, up upload) {
	address, err := types.ParseResourceAddress(up.message.Address)
	if err != nil {
		ul.ctx.WithError(err).Debug("Rejecting message with unparseable address")
		settleUpload(ul.link, up.delivery, "unknown", err)
		return
	}
	endpoint := address.Endpoint
	settled := up.delivery.RemotelySettled()

	err = g.routeUpload(ul, up.message, address, settled)
	if err != nil {
		ul.ctx.WithField("Endpoint", endpoint).WithError(err).Debug("Could not process message")
	}
	settleUpload(ul.link, up.delivery, endpoint, err)
}

func (g *Gateway) routeUpload(ul *uploadLink, message *types.Message, address *types.ResourceAddress, settled bool) error {
	if err := validateEndpoint(address.Endpoint, settled); err != nil {
		return err
	}
	validated, err := validateAddress(address, ul.identity)
	if err != nil {
		return err
	}
	if validated != address {
		message.Address = validated.String()
	}
	if !message.PayloadConsistent() {
		return types.NewClientError(400, "empty notifications must not contain payload")
	}
	switch validated.Endpoint {
	case types.EndpointTelemetry, types.EndpointEvent:
		return g.forwardDownstream(ul, message, validated, settled)
	default:
		return g.forwardCommandResponse(message, validated)
	}
}

// forwardDownstream sends a telemetry or event message to the tenant's
// backend sender. The tenant's configuration and a registration assertion are
// both resolved before anything is forwarded; a tenant that has this adapter
// disabled never sees the message.
func (g *Gateway) forwardDownstream(ul *uploadLink, message *types.Message, address *types.ResourceAddress, settled bool) error {
	reqCtx, cancel := g.requestContext()
	defer cancel()

	tenant, err := g.registry.Tenant(reqCtx, address.TenantID)
	if err != nil {
		return err
	}
	if !tenant.AdapterEnabled(AdapterType) {
		return types.NewClientError(403, "adapter disabled for tenant")
	}

	sender, err := g.senders.Get(address.TenantID, address.Endpoint)
	if err != nil {
		return err
	}

	downstream := &backend.Message{
		TenantID:    address.TenantID,
		DeviceID:    address.DeviceID,
		Address:     message.Address,
		Endpoint:    address.Endpoint,
		ContentType: message.ContentType,
		Payload:     message.Payload,
		Properties:  message.Properties,
	}
	if sender.RegistrationAssertionRequired() {
		assertion, err := g.registry.RegistrationAssertion(reqCtx, address.TenantID, address.DeviceID, ul.identity)
		if err != nil {
			return err
		}
		downstream.RegistrationAssertion = assertion
	}

	if settled {
		return sender.Send(reqCtx, downstream)
	}
	return sender.SendAndAwaitOutcome(reqCtx, downstream)
}

// forwardCommandResponse sends a device's response to a command back to the
// tenant's command response channel. A non-string correlation ID is treated
// as absent, which fails the required-field validation below.
func (g *Gateway) forwardCommandResponse(message *types.Message, address *types.ResourceAddress) error {
	correlationID := message.CorrelationIDString()
	status, _ := message.IntProperty(types.PropertyStatus)
	response := types.NewCommandResponse(message.Payload, message.ContentType, status, correlationID, address)
	if response == nil {
		return types.NewClientError(400, "malformed command response message")
	}

	reqCtx, cancel := g.requestContext()
	defer cancel()
	return g.responses.SendCommandResponse(reqCtx, address.TenantID, response)
}
