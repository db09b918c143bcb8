// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package amqp connects the gateway to an AMQP 0.9.1 messaging fabric.
//
// Telemetry and event messages are published to the "[endpoint].[tenant-id]"
// routing key on a topic exchange. The device ID, original address and
// optional registration assertion travel as message headers, the device
// payload as the message body.
//
// Commands for a device are consumed from the durable
// "command.req.[tenant-id].[device-id]" queue with a prefetch of one, so a
// device only receives the next command after settling the previous one.
// Accepting a command acks the delivery, rejecting discards it and releasing
// requeues it.
//
// Command responses are published to the "command.res.[tenant-id]" routing
// key with the command's correlation ID and a "status" header carrying the
// device's HTTP-like status code.
//
// Device connection state is announced on the "event.[tenant-id]" routing key
// as empty notifications with a "ttd" header: -1 while the device can receive
// commands, 0 when it no longer can.
package amqp
