// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package types

import (
	"net/http"
	"strings"
)

// ResourceAddress is a parsed resource address of the form
// <endpoint>/<tenantId>/<deviceId>[/<extra-segments...>].
// TenantID and DeviceID are empty when the corresponding segment is absent.
type ResourceAddress struct {
	Endpoint string
	TenantID string
	DeviceID string
	Extra    []string
}

// ParseResourceAddress parses an address string into its segments.
func ParseResourceAddress(address string) (*ResourceAddress, error) {
	if address == "" {
		return nil, NewClientError(http.StatusBadRequest, "address must not be empty")
	}
	segments := strings.Split(strings.TrimPrefix(address, "/"), "/")
	if segments[0] == "" {
		return nil, NewClientError(http.StatusBadRequest, "address must contain an endpoint")
	}
	resource := &ResourceAddress{Endpoint: segments[0]}
	if len(segments) > 1 {
		resource.TenantID = segments[1]
	}
	if len(segments) > 2 {
		resource.DeviceID = segments[2]
	}
	if len(segments) > 3 {
		resource.Extra = segments[3:]
	}
	return resource, nil
}

// String formats the address as <endpoint>/<tenantId>/<deviceId>[/<extra...>],
// omitting trailing segments that are absent.
func (r *ResourceAddress) String() string {
	segments := []string{r.Endpoint}
	if r.TenantID != "" || r.DeviceID != "" || len(r.Extra) > 0 {
		segments = append(segments, r.TenantID)
	}
	if r.DeviceID != "" || len(r.Extra) > 0 {
		segments = append(segments, r.DeviceID)
	}
	segments = append(segments, r.Extra...)
	return strings.Join(segments, "/")
}

// ReplyToID returns the reply-to identifier exposed to applications:
// the device ID rejoined with all segments following it.
func (r *ResourceAddress) ReplyToID() string {
	if len(r.Extra) == 0 {
		return r.DeviceID
	}
	return r.DeviceID + "/" + strings.Join(r.Extra, "/")
}
