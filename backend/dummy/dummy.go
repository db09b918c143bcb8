// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package dummy provides an in-memory backend fabric for testing.
package dummy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"

	"github.com/fieldlink/device-gateway/backend"
	"github.com/fieldlink/device-gateway/types"
)

// Dummy backend
type Dummy struct {
	mu  sync.Mutex
	ctx log.Interface

	senders   map[string]*Sender
	consumers map[string]*Consumer
	responses []*types.CommandResponse

	connected    []Notification
	disconnected []Notification

	// SenderErr makes NewSender fail.
	SenderErr error
	// ConsumerErr makes CreateCommandConsumer fail.
	ConsumerErr error
	// ResponseErr makes SendCommandResponse fail.
	ResponseErr error
	// AssertionRequired is inherited by created senders.
	AssertionRequired bool
}

// Notification records an emitted TTD event.
type Notification struct {
	TenantID string
	DeviceID string
}

// New returns a new Dummy backend
func New(ctx log.Interface) *Dummy {
	return &Dummy{
		ctx:       ctx.WithField("Connector", "Dummy"),
		senders:   make(map[string]*Sender),
		consumers: make(map[string]*Consumer),
	}
}

// Connect implements backend interfaces
func (d *Dummy) Connect() error {
	d.ctx.Debug("Connected")
	return nil
}

// Disconnect implements backend interfaces
func (d *Dummy) Disconnect() error {
	d.ctx.Debug("Disconnected")
	return nil
}

// NewSender implements backend interfaces
func (d *Dummy) NewSender(tenantID, endpoint string) (backend.Sender, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SenderErr != nil {
		return nil, d.SenderErr
	}
	sender := &Sender{assertionRequired: d.AssertionRequired}
	d.senders[senderKey(tenantID, endpoint)] = sender
	return sender, nil
}

// Sender returns the sender created for the tenant and endpoint, or nil.
func (d *Dummy) Sender(tenantID, endpoint string) *Sender {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.senders[senderKey(tenantID, endpoint)]
}

// CreateCommandConsumer implements backend interfaces
func (d *Dummy) CreateCommandConsumer(_ context.Context, tenantID, deviceID string, onCommand backend.CommandHandler, onClose func(), _ time.Duration) (backend.CommandConsumer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ConsumerErr != nil {
		return nil, d.ConsumerErr
	}
	consumer := &Consumer{handler: onCommand, onClose: onClose}
	d.consumers[deviceKey(tenantID, deviceID)] = consumer
	d.ctx.WithField("Device", deviceKey(tenantID, deviceID)).Debug("Created command consumer")
	return consumer, nil
}

// Consumer returns the consumer created for the device, or nil.
func (d *Dummy) Consumer(tenantID, deviceID string) *Consumer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.consumers[deviceKey(tenantID, deviceID)]
}

// SendCommandResponse implements backend interfaces
func (d *Dummy) SendCommandResponse(_ context.Context, tenantID string, response *types.CommandResponse) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ResponseErr != nil {
		return d.ResponseErr
	}
	d.responses = append(d.responses, response)
	return nil
}

// CommandResponses returns the forwarded command responses.
func (d *Dummy) CommandResponses() []*types.CommandResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*types.CommandResponse(nil), d.responses...)
}

// SendConnectedEvent implements backend interfaces
func (d *Dummy) SendConnectedEvent(_ context.Context, tenantID, deviceID string, _ *types.Identity) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = append(d.connected, Notification{TenantID: tenantID, DeviceID: deviceID})
	return nil
}

// SendDisconnectedEvent implements backend interfaces
func (d *Dummy) SendDisconnectedEvent(_ context.Context, tenantID, deviceID string, _ *types.Identity) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnected = append(d.disconnected, Notification{TenantID: tenantID, DeviceID: deviceID})
	return nil
}

// ConnectedEvents returns the emitted connected notifications.
func (d *Dummy) ConnectedEvents() []Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Notification(nil), d.connected...)
}

// DisconnectedEvents returns the emitted disconnected notifications.
func (d *Dummy) DisconnectedEvents() []Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Notification(nil), d.disconnected...)
}

// Sender records forwarded messages.
type Sender struct {
	mu                sync.Mutex
	assertionRequired bool
	closed            bool
	sent              []*backend.Message
	awaited           []*backend.Message

	// SendErr makes all sends fail.
	SendErr error
}

// Send implements backend.Sender
func (s *Sender) Send(_ context.Context, message *backend.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return s.SendErr
	}
	s.sent = append(s.sent, message)
	return nil
}

// SendAndAwaitOutcome implements backend.Sender
func (s *Sender) SendAndAwaitOutcome(_ context.Context, message *backend.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return s.SendErr
	}
	s.awaited = append(s.awaited, message)
	return nil
}

// RegistrationAssertionRequired implements backend.Sender
func (s *Sender) RegistrationAssertionRequired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assertionRequired
}

// Close implements backend.Sender
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Sent returns the fire-and-forget messages.
func (s *Sender) Sent() []*backend.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*backend.Message(nil), s.sent...)
}

// Awaited returns the messages sent with outcome awaited.
func (s *Sender) Awaited() []*backend.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*backend.Message(nil), s.awaited...)
}

// SetSendErr makes all sends fail with err.
func (s *Sender) SetSendErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendErr = err
}

// Consumer is a recorded command subscription.
type Consumer struct {
	mu      sync.Mutex
	handler backend.CommandHandler
	onClose func()
	closed  int
}

// Close implements backend.CommandConsumer
func (c *Consumer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
}

// CloseCount returns how often Close was called.
func (c *Consumer) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// FireClose simulates the backend losing the subscription.
func (c *Consumer) FireClose() {
	c.mu.Lock()
	onClose := c.onClose
	c.mu.Unlock()
	if onClose != nil {
		onClose()
	}
}

// Deliver pushes a command through the consumer's handler and returns the
// recorded outcome.
func (c *Consumer) Deliver(command *types.Command) *CommandStatus {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	status := new(CommandStatus)
	handler(&commandContext{command: command, status: status})
	return status
}

// CommandStatus records what the gateway did with one delivered command.
type CommandStatus struct {
	mu           sync.Mutex
	accepted     int
	rejected     int
	rejectReason *types.Condition
	released     int
	flowed       int
}

// Accepted returns how often the command was accepted.
func (s *CommandStatus) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Rejected returns how often the command was rejected.
func (s *CommandStatus) Rejected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

// RejectReason returns the last rejection condition.
func (s *CommandStatus) RejectReason() *types.Condition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejectReason
}

// Released returns how often the command was released.
func (s *CommandStatus) Released() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Flowed returns the total credit replenished.
func (s *CommandStatus) Flowed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flowed
}

type commandContext struct {
	command *types.Command
	status  *CommandStatus
}

func (c *commandContext) Command() *types.Command {
	return c.command
}

func (c *commandContext) Accept() {
	c.status.mu.Lock()
	defer c.status.mu.Unlock()
	c.status.accepted++
}

func (c *commandContext) Reject(reason types.Condition) {
	c.status.mu.Lock()
	defer c.status.mu.Unlock()
	c.status.rejected++
	c.status.rejectReason = &reason
}

func (c *commandContext) Release() {
	c.status.mu.Lock()
	defer c.status.mu.Unlock()
	c.status.released++
}

func (c *commandContext) Flow(credits int) {
	c.status.mu.Lock()
	defer c.status.mu.Unlock()
	c.status.flowed += credits
}

func senderKey(tenantID, endpoint string) string {
	return fmt.Sprintf("%s/%s", endpoint, tenantID)
}

func deviceKey(tenantID, deviceID string) string {
	return fmt.Sprintf("%s/%s", tenantID, deviceID)
}
