// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package registry

import (
	"context"
	"encoding/json"
	"net/http"

	pkgerrors "github.com/pkg/errors"
	redis "gopkg.in/redis.v5"

	"github.com/fieldlink/device-gateway/types"
)

// Redis implements the registry interface with a Redis backend
type Redis struct {
	prefix string
	client *redis.Client
}

// DefaultRedisPrefix is used as prefix when no prefix is given
var DefaultRedisPrefix = "registry:"

var redisKey = struct {
	enabled   string
	adapters  string
	assertion string
}{
	enabled:   "enabled",
	adapters:  "adapters",
	assertion: "assertion",
}

// NewRedis returns a new registry with a Redis backend
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{
		client: client,
		prefix: prefix,
	}
}

func (r *Redis) tenantKey(tenantID string) string {
	return r.prefix + "tenant:" + tenantID
}

func (r *Redis) deviceKey(tenantID, deviceID string) string {
	return r.prefix + "device:" + tenantID + ":" + deviceID
}

// SetTenant stores a tenant's configuration
func (r *Redis) SetTenant(tenant *types.Tenant) error {
	data := map[string]string{
		redisKey.enabled: boolString(tenant.Enabled),
	}
	if tenant.Adapters != nil {
		adapters, err := json.Marshal(tenant.Adapters)
		if err != nil {
			return pkgerrors.Wrap(err, "could not marshal tenant adapters")
		}
		data[redisKey.adapters] = string(adapters)
	}
	return r.client.HMSet(r.tenantKey(tenant.ID), data).Err()
}

// SetDevice stores a device's registration
func (r *Redis) SetDevice(tenantID, deviceID string, enabled bool, assertion string) error {
	return r.client.HMSet(r.deviceKey(tenantID, deviceID), map[string]string{
		redisKey.enabled:   boolString(enabled),
		redisKey.assertion: assertion,
	}).Err()
}

// IsDeviceEnabled implements the registry interface
func (r *Redis) IsDeviceEnabled(_ context.Context, identity types.Identity) (bool, error) {
	res, err := r.client.HGetAll(r.deviceKey(identity.TenantID, identity.DeviceID)).Result()
	if err == redis.Nil || len(res) == 0 {
		return false, nil
	}
	if err != nil {
		return false, pkgerrors.Wrap(err, "could not look up device")
	}
	return res[redisKey.enabled] == "true", nil
}

// Tenant implements the registry interface
func (r *Redis) Tenant(_ context.Context, tenantID string) (*types.Tenant, error) {
	res, err := r.client.HGetAll(r.tenantKey(tenantID)).Result()
	if err == redis.Nil || len(res) == 0 {
		return nil, types.NewClientError(http.StatusNotFound, "no such tenant")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "could not look up tenant")
	}
	tenant := &types.Tenant{
		ID:      tenantID,
		Enabled: res[redisKey.enabled] == "true",
	}
	if adapters, ok := res[redisKey.adapters]; ok && adapters != "" {
		if err := json.Unmarshal([]byte(adapters), &tenant.Adapters); err != nil {
			return nil, pkgerrors.Wrap(err, "could not unmarshal tenant adapters")
		}
	}
	return tenant, nil
}

// RegistrationAssertion implements the registry interface
func (r *Redis) RegistrationAssertion(_ context.Context, tenantID, deviceID string, _ *types.Identity) (string, error) {
	res, err := r.client.HGetAll(r.deviceKey(tenantID, deviceID)).Result()
	if err == redis.Nil || len(res) == 0 {
		return "", types.NewClientError(http.StatusNotFound, "device is not registered or disabled")
	}
	if err != nil {
		return "", pkgerrors.Wrap(err, "could not look up device")
	}
	if res[redisKey.enabled] != "true" {
		return "", types.NewClientError(http.StatusNotFound, "device is not registered or disabled")
	}
	return res[redisKey.assertion], nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
