// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package gateway

import (
	"bytes"
	"errors"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/fieldlink/device-gateway/backend/dummy"
	"github.com/fieldlink/device-gateway/registry"
	"github.com/fieldlink/device-gateway/transport"
	"github.com/fieldlink/device-gateway/transport/transporttest"
	"github.com/fieldlink/device-gateway/types"
)

func TestCommandChannel(t *testing.T) {
	Convey("Given a connected device", t, func(c C) {

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

		conn := transporttest.NewConnection(&types.Identity{TenantID: "tenantA", DeviceID: "dev1"})
		g.HandleConnection(conn)
		So(conn.Opened(), ShouldBeTrue)

		command := func(id, correlationID string) *types.Command {
			message := &types.Message{
				ID:      id,
				Subject: "setVolume",
				ReplyTo: "command/tenantA/dev1/reply-1",
				Payload: []byte(`{"level":3}`),
			}
			if correlationID != "" {
				message.CorrelationID = correlationID
			}
			return types.CommandFromMessage(message, "tenantA", "dev1")
		}

		Convey("When the device attaches a command link without a source address", func() {
			link := transporttest.NewSender("commands", "")
			conn.OpenSender(link)
			Convey("The link should be rejected", func() {
				So(link.Opened(), ShouldBeFalse)
				So(link.Closed(), ShouldBeTrue)
				So(link.CloseCondition().Name, ShouldEqual, ConditionBadRequest)
			})
		})

		Convey("When the device attaches a command link with a non-command source", func() {
			link := transporttest.NewSender("commands", "telemetry/tenantA/dev1")
			conn.OpenSender(link)
			Convey("The link should be rejected as not found", func() {
				So(link.Closed(), ShouldBeTrue)
				So(link.CloseCondition().Name, ShouldEqual, ConditionNotFound)
			})
		})

		Convey("When the backend cannot create a command consumer", func() {
			fabric.ConsumerErr = errors.New("no fabric connection")
			link := transporttest.NewSender("commands", "command/tenantA/dev1")
			conn.OpenSender(link)
			Convey("The link should be rejected as unavailable", func() {
				So(link.Opened(), ShouldBeFalse)
				So(link.Closed(), ShouldBeTrue)
				So(link.CloseCondition().Name, ShouldEqual, ConditionUnavailable)
			})
		})

		Convey("When the device attaches a valid command link", func() {
			link := transporttest.NewSender("commands", "command/tenantA/dev1")
			conn.OpenSender(link)

			Convey("The link should be opened at least-once and a binding created", func() {
				So(link.Opened(), ShouldBeTrue)
				So(link.QoS(), ShouldEqual, transport.AtLeastOnce)
				So(fabric.Consumer("tenantA", "dev1"), ShouldNotBeNil)
				So(g.CommandDevices(), ShouldEqual, 1)
			})

			Convey("A connected notification should be emitted", func() {
				events := fabric.ConnectedEvents()
				So(events, ShouldHaveLength, 1)
				So(events[0].TenantID, ShouldEqual, "tenantA")
				So(events[0].DeviceID, ShouldEqual, "dev1")
			})

			consumer := fabric.Consumer("tenantA", "dev1")
			So(consumer, ShouldNotBeNil)

			Convey("When the backend delivers a command the device accepts", func() {
				link.OutcomeFunc = func(*types.Message) transport.Outcome {
					return transport.Outcome{Settled: true, State: transport.DeliveryAccepted}
				}
				status := consumer.Deliver(command("msg-1", "corr-1"))
				Convey("The command should be accepted at the backend with one unit of credit replenished", func() {
					So(link.Sent(), ShouldHaveLength, 1)
					So(status.Accepted(), ShouldEqual, 1)
					So(status.Rejected(), ShouldEqual, 0)
					So(status.Released(), ShouldEqual, 0)
					So(status.Flowed(), ShouldEqual, 1)
				})
			})

			Convey("When the backend delivers a command without a correlation ID", func() {
				link.OutcomeFunc = func(*types.Message) transport.Outcome {
					return transport.Outcome{Settled: true, State: transport.DeliveryAccepted}
				}
				status := consumer.Deliver(command("msg-7", ""))
				Convey("The message sent to the device should carry the message ID as correlation ID", func() {
					sent := link.Sent()
					So(sent, ShouldHaveLength, 1)
					So(sent[0].CorrelationID, ShouldEqual, "msg-7")
					So(status.Accepted(), ShouldEqual, 1)
					So(status.Flowed(), ShouldEqual, 1)
				})
			})

			Convey("When the device rejects a command with a reason", func() {
				reason := types.Condition{Name: "device:busy", Description: "try later"}
				link.OutcomeFunc = func(*types.Message) transport.Outcome {
					return transport.Outcome{Settled: true, State: transport.DeliveryRejected, Reason: &reason}
				}
				status := consumer.Deliver(command("msg-2", "corr-2"))
				Convey("The command should be rejected at the backend with that reason and credit replenished once", func() {
					So(status.Rejected(), ShouldEqual, 1)
					So(status.RejectReason(), ShouldNotBeNil)
					So(status.RejectReason().Name, ShouldEqual, "device:busy")
					So(status.Flowed(), ShouldEqual, 1)
				})
			})

			Convey("When the device never settles a command", func() {
				link.OutcomeFunc = func(*types.Message) transport.Outcome {
					return transport.Outcome{Settled: false}
				}
				status := consumer.Deliver(command("msg-3", "corr-3"))
				Convey("The command should be released at the backend", func() {
					So(status.Released(), ShouldEqual, 1)
					So(status.Flowed(), ShouldEqual, 1)
				})
			})

			Convey("When the backend delivers a malformed command", func() {
				malformed := types.CommandFromMessage(&types.Message{
					ID:      "msg-4",
					Subject: "setVolume",
					ReplyTo: "command/otherTenant/dev1/reply-1",
				}, "tenantA", "dev1")
				status := consumer.Deliver(malformed)
				Convey("The command should be rejected without reaching the device and credit replenished", func() {
					So(link.Sent(), ShouldBeEmpty)
					So(status.Rejected(), ShouldEqual, 1)
					So(status.Flowed(), ShouldEqual, 1)
				})
			})

			Convey("When the link has dropped but teardown has not run yet", func() {
				link.SetOpen(false)
				status := consumer.Deliver(command("msg-5", "corr-5"))
				Convey("The command should be released for redelivery elsewhere", func() {
					So(link.Sent(), ShouldBeEmpty)
					So(status.Released(), ShouldEqual, 1)
					So(status.Flowed(), ShouldEqual, 1)
				})
			})

			Convey("When the device detaches the link", func() {
				link.FireDetach()
				Convey("The binding should be torn down", func() {
					So(fabric.DisconnectedEvents(), ShouldHaveLength, 1)
					So(consumer.CloseCount(), ShouldEqual, 1)
					So(g.CommandDevices(), ShouldEqual, 0)
				})

				Convey("When the connection is lost afterwards", func() {
					conn.FireDisconnect()
					Convey("The teardown should not run a second time", func() {
						So(fabric.DisconnectedEvents(), ShouldHaveLength, 1)
						So(consumer.CloseCount(), ShouldEqual, 1)
					})
				})
			})

			Convey("When the connection is lost", func() {
				conn.FireDisconnect()
				Convey("The binding should be torn down exactly once", func() {
					So(fabric.DisconnectedEvents(), ShouldHaveLength, 1)
					So(consumer.CloseCount(), ShouldEqual, 1)
				})

				Convey("When the connection loss is reported again as a remote close", func() {
					conn.FireRemoteClose(errors.New("peer went away"))
					Convey("Nothing further should happen", func() {
						So(fabric.DisconnectedEvents(), ShouldHaveLength, 1)
						So(consumer.CloseCount(), ShouldEqual, 1)
					})
				})
			})
		})
	})
}
