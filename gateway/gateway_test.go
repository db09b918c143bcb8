// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package gateway

import (
	"bytes"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/fieldlink/device-gateway/backend/dummy"
	"github.com/fieldlink/device-gateway/registry"
	"github.com/fieldlink/device-gateway/transport"
	"github.com/fieldlink/device-gateway/transport/transporttest"
	"github.com/fieldlink/device-gateway/types"
)

func TestGateway(t *testing.T) {
	Convey("Given a gateway with a dummy backend", t, func(c C) {

		var logs bytes.Buffer
		ctx := &log.Logger{
			Handler: text.New(&logs),
			Level:   log.DebugLevel,
		}
		defer func() {
			if logs.Len() > 0 {
				c.Printf("\n%s", logs.String())
			}
		}()

		fabric := dummy.New(ctx)
		reg := registry.NewMemory()
		reg.RegisterTenant(&types.Tenant{ID: "tenantA", Enabled: true})
		reg.RegisterDevice("tenantA", "dev1", true)

		g := New(Config{AuthenticationRequired: true}, reg, Backends{
			Senders:   fabric.NewSender,
			Commands:  fabric,
			Responses: fabric,
			Notifier:  fabric,
		}, ctx)
		defer g.Close()

		identity := &types.Identity{TenantID: "tenantA", DeviceID: "dev1"}

		Convey("When an anonymous device connects", func() {
			conn := transporttest.NewConnection(nil)
			g.HandleConnection(conn)
			Convey("The connection should be closed as unauthorized", func() {
				So(conn.Opened(), ShouldBeFalse)
				So(conn.Closed(), ShouldBeTrue)
				So(conn.CloseCondition().Name, ShouldEqual, ConditionUnauthorized)
			})
		})

		Convey("When an unknown device connects", func() {
			conn := transporttest.NewConnection(&types.Identity{TenantID: "tenantA", DeviceID: "ghost"})
			g.HandleConnection(conn)
			Convey("The connection should be closed", func() {
				So(conn.Opened(), ShouldBeFalse)
				So(conn.Closed(), ShouldBeTrue)
			})
		})

		Convey("When a registered device connects", func() {
			conn := transporttest.NewConnection(identity)
			g.HandleConnection(conn)

			Convey("The connection should be opened with the gateway's container name", func() {
				So(conn.Opened(), ShouldBeTrue)
				So(conn.Closed(), ShouldBeFalse)
				So(conn.Container(), ShouldEqual, ContainerName)
			})

			Convey("When the device begins a session", func() {
				session := conn.OpenSession()
				Convey("The session should be opened with the configured window", func() {
					So(session.Opened(), ShouldBeTrue)
					So(session.Window(), ShouldEqual, DefaultMaxSessionWindow)
				})
			})

			Convey("When the device attaches a pre-settled-only uploading link", func() {
				receiver := transporttest.NewReceiver("upload", transport.AtMostOnce)
				conn.OpenReceiver(receiver)
				Convey("The link should be rejected and no message handler attached", func() {
					So(receiver.Opened(), ShouldBeFalse)
					So(receiver.Closed(), ShouldBeTrue)
					So(receiver.CloseCondition().Name, ShouldEqual, ConditionBadRequest)
					So(receiver.HasMessageHandler(), ShouldBeFalse)
				})
			})

			Convey("When the device attaches an uploading link with a target address", func() {
				receiver := transporttest.NewReceiver("upload", transport.AtLeastOnce)
				receiver.SetRemoteTarget("telemetry/tenantA/dev1")
				conn.OpenReceiver(receiver)
				Convey("The link should be rejected", func() {
					So(receiver.Closed(), ShouldBeTrue)
					So(receiver.CloseCondition().Name, ShouldEqual, ConditionBadRequest)
				})
			})

			Convey("When the device attaches a valid uploading link", func() {
				receiver := transporttest.NewReceiver("upload", transport.AtLeastOnce)
				conn.OpenReceiver(receiver)

				Convey("The link should be opened with explicit dispositions and bounded credit", func() {
					So(receiver.Opened(), ShouldBeTrue)
					So(receiver.AutoSettle(), ShouldBeFalse)
					So(receiver.Prefetch(), ShouldEqual, DefaultLinkCredit)
					So(receiver.HasMessageHandler(), ShouldBeTrue)
				})

				Convey("When the device uploads unsettled telemetry without an address path", func() {
					delivery := receiver.Deliver(&types.Message{
						Address: "telemetry",
						Payload: []byte("temp=21"),
					}, false)
					Convey("The delivery should be accepted and forwarded with the identity's tenant and device", func() {
						So(delivery.WaitState(time.Second), ShouldEqual, transport.DeliveryAccepted)
						sender := fabric.Sender("tenantA", types.EndpointTelemetry)
						So(sender, ShouldNotBeNil)
						awaited := sender.Awaited()
						So(awaited, ShouldHaveLength, 1)
						So(awaited[0].TenantID, ShouldEqual, "tenantA")
						So(awaited[0].DeviceID, ShouldEqual, "dev1")
						So(awaited[0].Address, ShouldEqual, "telemetry/tenantA/dev1")
					})
					Convey("One unit of link credit should be replenished", func() {
						delivery.WaitState(time.Second)
						So(receiver.Flowed(), ShouldEqual, 1)
					})
				})

				Convey("When the device uploads pre-settled telemetry", func() {
					delivery := receiver.Deliver(&types.Message{
						Address: "telemetry/tenantA/dev1",
						Payload: []byte("temp=21"),
					}, true)
					Convey("The delivery should be accepted and forwarded fire-and-forget", func() {
						So(delivery.WaitState(time.Second), ShouldEqual, transport.DeliveryAccepted)
						sender := fabric.Sender("tenantA", types.EndpointTelemetry)
						So(sender, ShouldNotBeNil)
						So(sender.Sent(), ShouldHaveLength, 1)
						So(sender.Awaited(), ShouldBeEmpty)
					})
				})

				Convey("When the device uploads a pre-settled event", func() {
					delivery := receiver.Deliver(&types.Message{
						Address: "event/tenantA/dev1",
						Payload: []byte("boot"),
					}, true)
					Convey("The delivery should be rejected and nothing forwarded", func() {
						So(delivery.WaitState(time.Second), ShouldEqual, transport.DeliveryRejected)
						So(delivery.Reason().Name, ShouldEqual, ConditionBadRequest)
						So(fabric.Sender("tenantA", types.EndpointEvent), ShouldBeNil)
					})
				})

				Convey("When the device uploads to an unknown endpoint", func() {
					delivery := receiver.Deliver(&types.Message{
						Address: "firmware/tenantA/dev1",
					}, false)
					Convey("The delivery should be rejected as not found", func() {
						So(delivery.WaitState(time.Second), ShouldEqual, transport.DeliveryRejected)
						So(delivery.Reason().Name, ShouldEqual, ConditionNotFound)
					})
				})

				Convey("When the device uploads with a tenant but no device in the address", func() {
					delivery := receiver.Deliver(&types.Message{
						Address: "telemetry/tenantA",
						Payload: []byte("temp=21"),
					}, false)
					Convey("The delivery should be rejected and nothing forwarded", func() {
						So(delivery.WaitState(time.Second), ShouldEqual, transport.DeliveryRejected)
						So(delivery.Reason().Name, ShouldEqual, ConditionBadRequest)
						So(fabric.Sender("tenantA", types.EndpointTelemetry), ShouldBeNil)
					})
				})

				Convey("When the device uploads an empty notification with a payload", func() {
					delivery := receiver.Deliver(&types.Message{
						Address:     "event/tenantA/dev1",
						ContentType: types.ContentTypeEmptyNotification,
						Payload:     []byte("not empty"),
					}, false)
					Convey("The delivery should be rejected", func() {
						So(delivery.WaitState(time.Second), ShouldEqual, transport.DeliveryRejected)
						So(delivery.Reason().Name, ShouldEqual, ConditionBadRequest)
					})
				})

				Convey("When the device uploads for a tenant with this adapter disabled", func() {
					reg.RegisterTenant(&types.Tenant{
						ID:       "tenantB",
						Enabled:  true,
						Adapters: map[string]bool{AdapterType: false},
					})
					reg.RegisterDevice("tenantB", "dev2", true)
					delivery := receiver.Deliver(&types.Message{
						Address: "event/tenantB/dev2",
						Payload: []byte("boot"),
					}, false)
					Convey("The delivery should be rejected as unauthorized and nothing forwarded", func() {
						So(delivery.WaitState(time.Second), ShouldEqual, transport.DeliveryRejected)
						So(delivery.Reason().Name, ShouldEqual, ConditionUnauthorized)
						So(fabric.Sender("tenantB", types.EndpointEvent), ShouldBeNil)
					})
				})

				Convey("When the device uploads for an unknown tenant", func() {
					delivery := receiver.Deliver(&types.Message{
						Address: "telemetry/nobody/dev1",
					}, false)
					Convey("The delivery should be rejected as not found", func() {
						So(delivery.WaitState(time.Second), ShouldEqual, transport.DeliveryRejected)
						So(delivery.Reason().Name, ShouldEqual, ConditionNotFound)
					})
				})

				Convey("When the backend forward fails", func() {
					_, err := g.senders.Get("tenantA", types.EndpointTelemetry)
					So(err, ShouldBeNil)
					fabric.Sender("tenantA", types.EndpointTelemetry).SetSendErr(types.NewServerError(503, "fabric down"))
					delivery := receiver.Deliver(&types.Message{
						Address: "telemetry/tenantA/dev1",
					}, false)
					Convey("The delivery should be released so the device can retry", func() {
						So(delivery.WaitState(time.Second), ShouldEqual, transport.DeliveryReleased)
					})
				})

				Convey("When the device uploads a command response", func() {
					delivery := receiver.Deliver(&types.Message{
						Address:       "command/tenantA/dev1/reply-42",
						CorrelationID: "corr-1",
						ContentType:   "text/plain",
						Payload:       []byte("done"),
						Properties:    map[string]interface{}{types.PropertyStatus: int32(200)},
					}, false)
					Convey("The delivery should be accepted and the response forwarded", func() {
						So(delivery.WaitState(time.Second), ShouldEqual, transport.DeliveryAccepted)
						responses := fabric.CommandResponses()
						So(responses, ShouldHaveLength, 1)
						So(responses[0].CorrelationID, ShouldEqual, "corr-1")
						So(responses[0].Status, ShouldEqual, 200)
						So(responses[0].ReplyToID, ShouldEqual, "dev1/reply-42")
					})
				})

				Convey("When the device uploads a command response without a correlation ID", func() {
					delivery := receiver.Deliver(&types.Message{
						Address:    "command/tenantA/dev1/reply-42",
						Properties: map[string]interface{}{types.PropertyStatus: int32(200)},
					}, false)
					Convey("The delivery should be rejected and nothing forwarded", func() {
						So(delivery.WaitState(time.Second), ShouldEqual, transport.DeliveryRejected)
						So(delivery.Reason().Name, ShouldEqual, ConditionBadRequest)
						So(fabric.CommandResponses(), ShouldBeEmpty)
					})
				})

				Convey("When the device uploads a command response with a non-string correlation ID", func() {
					delivery := receiver.Deliver(&types.Message{
						Address:       "command/tenantA/dev1/reply-42",
						CorrelationID: 12345,
						Properties:    map[string]interface{}{types.PropertyStatus: int32(200)},
					}, false)
					Convey("The correlation ID should be treated as absent and the delivery rejected", func() {
						So(delivery.WaitState(time.Second), ShouldEqual, transport.DeliveryRejected)
						So(fabric.CommandResponses(), ShouldBeEmpty)
					})
				})
			})
		})

		Convey("Given a gateway that does not require authentication", func() {
			open := New(Config{}, reg, Backends{
				Senders:   fabric.NewSender,
				Commands:  fabric,
				Responses: fabric,
				Notifier:  fabric,
			}, ctx)
			defer open.Close()

			conn := transporttest.NewConnection(nil)
			open.HandleConnection(conn)
			So(conn.Opened(), ShouldBeTrue)

			receiver := transporttest.NewReceiver("upload", transport.AtLeastOnce)
			conn.OpenReceiver(receiver)
			So(receiver.Opened(), ShouldBeTrue)

			Convey("When the anonymous device uploads without tenant and device in the address", func() {
				delivery := receiver.Deliver(&types.Message{
					Address: "telemetry",
				}, false)
				Convey("The delivery should be rejected as unauthorized and nothing forwarded", func() {
					So(delivery.WaitState(time.Second), ShouldEqual, transport.DeliveryRejected)
					So(delivery.Reason().Name, ShouldEqual, ConditionUnauthorized)
					So(fabric.Sender("tenantA", types.EndpointTelemetry), ShouldBeNil)
				})
			})

			Convey("When the anonymous device uploads with a full address", func() {
				delivery := receiver.Deliver(&types.Message{
					Address: "telemetry/tenantA/dev1",
				}, false)
				Convey("The delivery should be accepted", func() {
					So(delivery.WaitState(time.Second), ShouldEqual, transport.DeliveryAccepted)
				})
			})
		})
	})
}

func TestValidateAddress(t *testing.T) {
	Convey("Given an authenticated identity", t, func() {
		identity := &types.Identity{TenantID: "tenantA", DeviceID: "dev1"}

		Convey("An address with neither tenant nor device should be filled from the identity", func() {
			address, err := types.ParseResourceAddress("telemetry")
			So(err, ShouldBeNil)
			validated, err := validateAddress(address, identity)
			So(err, ShouldBeNil)
			So(validated.Endpoint, ShouldEqual, types.EndpointTelemetry)
			So(validated.TenantID, ShouldEqual, "tenantA")
			So(validated.DeviceID, ShouldEqual, "dev1")
		})

		Convey("An address with a tenant but no device should fail", func() {
			address, err := types.ParseResourceAddress("telemetry/tenantB")
			So(err, ShouldBeNil)
			_, err = validateAddress(address, identity)
			So(err, ShouldNotBeNil)
			So(types.ErrorStatus(err), ShouldEqual, 400)
		})

		Convey("A full address should be accepted as given", func() {
			address, err := types.ParseResourceAddress("telemetry/tenantB/dev2")
			So(err, ShouldBeNil)
			validated, err := validateAddress(address, identity)
			So(err, ShouldBeNil)
			So(validated, ShouldEqual, address)
		})
	})

	Convey("Given no identity", t, func() {
		Convey("An address without tenant and device should fail as forbidden", func() {
			address, err := types.ParseResourceAddress("telemetry")
			So(err, ShouldBeNil)
			_, err = validateAddress(address, nil)
			So(err, ShouldNotBeNil)
			So(types.ErrorStatus(err), ShouldEqual, 403)
		})

		Convey("A full address should be accepted", func() {
			address, err := types.ParseResourceAddress("telemetry/tenantA/dev1")
			So(err, ShouldBeNil)
			validated, err := validateAddress(address, nil)
			So(err, ShouldBeNil)
			So(validated, ShouldEqual, address)
		})
	})
}
