// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package registry

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/fieldlink/device-gateway/types"
)

func TestMemoryRegistry(t *testing.T) {
	Convey("Given a memory registry with a tenant and a device", t, func() {
		reg := NewMemory()
		reg.RegisterTenant(&types.Tenant{ID: "tenantA", Enabled: true})
		reg.RegisterDevice("tenantA", "dev1", true)
		reg.RegisterDevice("tenantA", "dev2", false)

		Convey("An enabled device should be enabled", func() {
			enabled, err := reg.IsDeviceEnabled(context.Background(), types.Identity{TenantID: "tenantA", DeviceID: "dev1"})
			So(err, ShouldBeNil)
			So(enabled, ShouldBeTrue)
		})

		Convey("A disabled device should not be enabled", func() {
			enabled, err := reg.IsDeviceEnabled(context.Background(), types.Identity{TenantID: "tenantA", DeviceID: "dev2"})
			So(err, ShouldBeNil)
			So(enabled, ShouldBeFalse)
		})

		Convey("An unknown device should not be enabled", func() {
			enabled, err := reg.IsDeviceEnabled(context.Background(), types.Identity{TenantID: "tenantA", DeviceID: "dev3"})
			So(err, ShouldBeNil)
			So(enabled, ShouldBeFalse)
		})

		Convey("A known tenant should be returned", func() {
			tenant, err := reg.Tenant(context.Background(), "tenantA")
			So(err, ShouldBeNil)
			So(tenant.ID, ShouldEqual, "tenantA")
		})

		Convey("An unknown tenant should yield a not-found error", func() {
			_, err := reg.Tenant(context.Background(), "tenantB")
			So(err, ShouldNotBeNil)
			So(types.ErrorStatus(err), ShouldEqual, 404)
		})

		Convey("An assertion should be issued to enabled devices only", func() {
			assertion, err := reg.RegistrationAssertion(context.Background(), "tenantA", "dev1", nil)
			So(err, ShouldBeNil)
			So(assertion, ShouldNotBeEmpty)

			_, err = reg.RegistrationAssertion(context.Background(), "tenantA", "dev2", nil)
			So(err, ShouldNotBeNil)
			So(types.ErrorStatus(err), ShouldEqual, 404)
		})
	})
}
