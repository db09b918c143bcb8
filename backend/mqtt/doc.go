// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package mqtt connects the gateway to an MQTT messaging fabric.
//
// Telemetry and event messages are published as JSON envelopes on the
// "[endpoint]/[tenant-id]" topic. Messages uploaded with at-least-once
// semantics are published with QoS 1 and awaited, pre-settled messages with
// QoS 0.
//
// Commands for a device arrive as JSON envelopes on the
// "command/req/[tenant-id]/[device-id]" topic. MQTT has no per-message credit,
// so the consumer buffers commands and hands them to the gateway one at a
// time, waiting for the gateway to replenish credit before handing out the
// next one.
//
// Command responses are published to "command/res/[tenant-id]", device
// connection state as empty notifications on "event/[tenant-id]" with a ttd
// of -1 (reachable) or 0 (gone).
package mqtt
