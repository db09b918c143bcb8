// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package types defines the data model shared by the gateway core and its
// collaborators: identities, resource addresses, transport messages, commands
// and command responses, tenants and the error taxonomy.
package types

import "fmt"

// Endpoints that devices may address messages to.
const (
	EndpointTelemetry = "telemetry"
	EndpointEvent     = "event"
	EndpointCommand   = "command"
)

// ContentTypeEmptyNotification marks a message that intentionally carries no payload.
const ContentTypeEmptyNotification = "application/vnd.gateway.empty-notification"

// PropertyStatus is the application property carrying the status code of a command response.
const PropertyStatus = "status"

// Identity is the authenticated identity of a device or gateway.
type Identity struct {
	TenantID string
	DeviceID string
}

func (i Identity) String() string {
	return fmt.Sprintf("%s/%s", i.TenantID, i.DeviceID)
}

// Condition describes why a link was closed or a delivery was rejected.
type Condition struct {
	Name        string
	Description string
}

func (c Condition) String() string {
	if c.Description == "" {
		return c.Name
	}
	return fmt.Sprintf("%s: %s", c.Name, c.Description)
}

// Tenant holds the configuration of a tenant as known to the registry.
type Tenant struct {
	ID      string
	Enabled bool
	// Adapters maps an adapter type to its enablement for this tenant.
	// An adapter type without an entry is considered enabled.
	Adapters map[string]bool
}

// AdapterEnabled reports whether the given adapter type may bridge traffic for
// this tenant. A disabled tenant disables all adapters.
func (t *Tenant) AdapterEnabled(adapterType string) bool {
	if t == nil || !t.Enabled {
		return false
	}
	if enabled, ok := t.Adapters[adapterType]; ok {
		return enabled
	}
	return true
}
