// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package registry

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/fieldlink/device-gateway/types"
)

// Memory implements the registry interface with an in-memory store
type Memory struct {
	mu      sync.RWMutex
	tenants map[string]*types.Tenant
	devices map[string]bool
}

// NewMemory returns a new registry with an in-memory store
func NewMemory() *Memory {
	return &Memory{
		tenants: make(map[string]*types.Tenant),
		devices: make(map[string]bool),
	}
}

// RegisterTenant adds or replaces a tenant
func (m *Memory) RegisterTenant(tenant *types.Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[tenant.ID] = tenant
}

// RegisterDevice adds or replaces a device
func (m *Memory) RegisterDevice(tenantID, deviceID string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[deviceKey(tenantID, deviceID)] = enabled
}

// IsDeviceEnabled implements the registry interface
func (m *Memory) IsDeviceEnabled(_ context.Context, identity types.Identity) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	enabled, ok := m.devices[deviceKey(identity.TenantID, identity.DeviceID)]
	return ok && enabled, nil
}

// Tenant implements the registry interface
func (m *Memory) Tenant(_ context.Context, tenantID string) (*types.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if tenant, ok := m.tenants[tenantID]; ok {
		return tenant, nil
	}
	return nil, types.NewClientError(http.StatusNotFound, "no such tenant")
}

// RegistrationAssertion implements the registry interface
func (m *Memory) RegistrationAssertion(_ context.Context, tenantID, deviceID string, _ *types.Identity) (string, error) {
	m.mu.RLock()
	enabled, ok := m.devices[deviceKey(tenantID, deviceID)]
	m.mu.RUnlock()
	if !ok || !enabled {
		return "", types.NewClientError(http.StatusNotFound, "device is not registered or disabled")
	}
	return uuid.NewString(), nil
}

func deviceKey(tenantID, deviceID string) string {
	return fmt.Sprintf("%s/%s", tenantID, deviceID)
}
