// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package types

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestCommandFromMessage(t *testing.T) {
	Convey("Given backend command messages for tenantA/dev1", t, func() {

		Convey("A well-formed message should yield a valid command", func() {
			cmd := CommandFromMessage(&Message{
				Subject:       "setBrightness",
				CorrelationID: "the-correlation-id",
				ReplyTo:       "command/tenantA/dev1/the-reply-to-id",
			}, "tenantA", "dev1")
			So(cmd.IsValid(), ShouldBeTrue)
			So(cmd.Name(), ShouldEqual, "setBrightness")
			So(cmd.CorrelationID(), ShouldEqual, "the-correlation-id")
			So(cmd.ReplyToID(), ShouldEqual, "dev1/the-reply-to-id")
		})

		Convey("A reply-to with multiple trailing segments should be rejoined", func() {
			cmd := CommandFromMessage(&Message{
				Subject:       "setBrightness",
				CorrelationID: "the-correlation-id",
				ReplyTo:       "command/tenantA/dev1/a/b/c",
			}, "tenantA", "dev1")
			So(cmd.IsValid(), ShouldBeTrue)
			So(cmd.ReplyToID(), ShouldEqual, "dev1/a/b/c")
		})

		Convey("A message without correlation ID should fall back to the message ID", func() {
			cmd := CommandFromMessage(&Message{
				ID:      "msg-4711",
				Subject: "setBrightness",
				ReplyTo: "command/tenantA/dev1/the-reply-to-id",
			}, "tenantA", "dev1")
			So(cmd.IsValid(), ShouldBeTrue)
			So(cmd.CorrelationID(), ShouldEqual, "msg-4711")
		})

		Convey("A message with neither correlation nor message ID should be invalid", func() {
			cmd := CommandFromMessage(&Message{
				Subject: "setBrightness",
				ReplyTo: "command/tenantA/dev1/the-reply-to-id",
			}, "tenantA", "dev1")
			So(cmd.IsValid(), ShouldBeFalse)
		})

		Convey("A message without a reply-to address should be invalid", func() {
			cmd := CommandFromMessage(&Message{
				Subject:       "setBrightness",
				CorrelationID: "the-correlation-id",
			}, "tenantA", "dev1")
			So(cmd.IsValid(), ShouldBeFalse)
		})

		Convey("A reply-to address with swapped segments should be invalid", func() {
			cmd := CommandFromMessage(&Message{
				Subject:       "setBrightness",
				CorrelationID: "the-correlation-id",
				ReplyTo:       "command/dev1/tenantA/the-reply-to-id",
			}, "tenantA", "dev1")
			So(cmd.IsValid(), ShouldBeFalse)
		})

		Convey("A reply-to address for another device should be invalid", func() {
			cmd := CommandFromMessage(&Message{
				Subject:       "setBrightness",
				CorrelationID: "the-correlation-id",
				ReplyTo:       "command/tenantA/dev2/the-reply-to-id",
			}, "tenantA", "dev1")
			So(cmd.IsValid(), ShouldBeFalse)
		})

		Convey("A non-string correlation ID should be treated as absent", func() {
			cmd := CommandFromMessage(&Message{
				ID:            "msg-4711",
				Subject:       "setBrightness",
				CorrelationID: 4711,
				ReplyTo:       "command/tenantA/dev1/the-reply-to-id",
			}, "tenantA", "dev1")
			So(cmd.IsValid(), ShouldBeTrue)
			So(cmd.CorrelationID(), ShouldEqual, "msg-4711")
		})

		Convey("Application properties should be exposed from the message", func() {
			cmd := CommandFromMessage(&Message{
				Subject:       "setBrightness",
				CorrelationID: "the-correlation-id",
				ReplyTo:       "command/tenantA/dev1/the-reply-to-id",
				Properties:    map[string]interface{}{"deviceId": "dev1"},
			}, "tenantA", "dev1")
			So(cmd.ApplicationProperties()["deviceId"], ShouldEqual, "dev1")
		})
	})
}

func TestNewCommandResponse(t *testing.T) {
	Convey("Given command response parts", t, func() {
		address, err := ParseResourceAddress("command/tenantA/dev1/the-reply-to-id")
		So(err, ShouldBeNil)

		Convey("A complete response should be built", func() {
			rsp := NewCommandResponse([]byte("ok"), "text/plain", 200, "the-correlation-id", address)
			So(rsp, ShouldNotBeNil)
			So(rsp.TenantID, ShouldEqual, "tenantA")
			So(rsp.DeviceID, ShouldEqual, "dev1")
			So(rsp.ReplyToID, ShouldEqual, "dev1/the-reply-to-id")
			So(rsp.Status, ShouldEqual, 200)
		})

		Convey("A missing correlation ID should yield no response", func() {
			So(NewCommandResponse(nil, "", 200, "", address), ShouldBeNil)
		})

		Convey("A status outside 2xx-5xx should yield no response", func() {
			So(NewCommandResponse(nil, "", 100, "the-correlation-id", address), ShouldBeNil)
			So(NewCommandResponse(nil, "", 600, "the-correlation-id", address), ShouldBeNil)
		})
	})
}
