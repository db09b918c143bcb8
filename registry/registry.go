// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package registry provides access to the device and tenant registry used for
// authorization decisions.
package registry

import (
	"context"

	"github.com/fieldlink/device-gateway/types"
)

// Interface for device and tenant registry lookups
type Interface interface {
	// IsDeviceEnabled reports whether the identity's device or gateway is
	// registered and enabled.
	IsDeviceEnabled(ctx context.Context, identity types.Identity) (bool, error)

	// Tenant returns the tenant's configuration, including adapter
	// enablement. Unknown tenants yield a not-found error.
	Tenant(ctx context.Context, tenantID string) (*types.Tenant, error)

	// RegistrationAssertion returns a token asserting that the device is
	// registered with the tenant, for downstream senders that require one.
	RegistrationAssertion(ctx context.Context, tenantID, deviceID string, identity *types.Identity) (string, error)
}
