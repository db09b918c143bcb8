// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package gateway

import (
	"github.com/fieldlink/device-gateway/transport"
	"github.com/fieldlink/device-gateway/types"
)

// validateAddress completes and authorizes a resource address against the
// connection's authenticated identity:
//
//   - no identity: the address must carry both tenant and device.
//   - identity given, address carries a tenant but no device: invalid, a
//     partial address is never accepted.
//   - identity given, address carries neither: the identity fills them in.
//   - anything else is accepted as given; whether the identity may act on
//     that tenant and device is decided by the registry, not here.
func validateAddress(address *types.ResourceAddress, identity *types.Identity) (*types.ResourceAddress, error) {
	if identity == nil {
		if address.TenantID == "" || address.DeviceID == "" {
			return nil, types.NewClientError(403, "unauthenticated clients must provide tenant and device ID")
		}
		return address, nil
	}
	if address.TenantID != "" && address.DeviceID == "" {
		return nil, types.NewClientError(400, "address must not contain a tenant ID only")
	}
	if address.TenantID == "" && address.DeviceID == "" {
		resolved := *address
		resolved.TenantID = identity.TenantID
		resolved.DeviceID = identity.DeviceID
		return &resolved, nil
	}
	return address, nil
}

// validateEndpoint checks that the endpoint of an uploaded message exists and
// that the delivery's settlement is allowed on it. Events carry an
// at-least-once guarantee, so a pre-settled event is a protocol violation.
func validateEndpoint(endpoint string, settled bool) error {
	switch endpoint {
	case types.EndpointTelemetry, types.EndpointCommand:
		return nil
	case types.EndpointEvent:
		if settled {
			return types.NewClientError(400, "events must not be sent pre-settled")
		}
		return nil
	default:
		return types.NewClientError(404, "no such endpoint")
	}
}

// sourceAddress resolves and validates the source address of a
// command-receiving link. Only the command endpoint is served; policy errors
// keep their status, anything unexpected becomes a generic bad request.
func (g *Gateway) sourceAddress(link transport.SenderLink, identity *types.Identity) (*types.ResourceAddress, error) {
	source := link.RemoteSource()
	if source == "" {
		return nil, types.NewClientError(400, "no source address specified")
	}
	address, err := types.ParseResourceAddress(source)
	if err != nil {
		return nil, types.NewClientError(400, "invalid source address")
	}
	validated, err := validateAddress(address, identity)
	if err != nil {
		if types.IsClientError(err) {
			return nil, err
		}
		return nil, types.NewClientError(400, "invalid source address")
	}
	if validated.Endpoint != types.EndpointCommand {
		return nil, types.NewClientError(404, "no such node")
	}
	return validated, nil
}
