// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package backend defines the messaging-fabric collaborators the gateway
// forwards traffic to: downstream senders per tenant and traffic class, the
// command source, the command-response channel and the connection-event
// notifier.
package backend

import (
	"context"
	"time"

	"github.com/fieldlink/device-gateway/types"
)

// Message is sent downstream on behalf of a device.
type Message struct {
	TenantID              string
	DeviceID              string
	Address               string
	Endpoint              string
	ContentType           string
	Payload               []byte
	RegistrationAssertion string
	Properties            map[string]interface{}
}

// Sender forwards messages of one traffic class for one tenant.
type Sender interface {
	// Send forwards fire-and-forget; the outcome is not reported.
	Send(ctx context.Context, message *Message) error
	// SendAndAwaitOutcome forwards and returns once the fabric has
	// accepted (or refused) the message.
	SendAndAwaitOutcome(ctx context.Context, message *Message) error
	// RegistrationAssertionRequired reports whether forwarded messages
	// must carry a registration assertion.
	RegistrationAssertionRequired() bool
	Close() error
}

// SenderFactory creates a sender for a tenant and endpoint (telemetry/event).
type SenderFactory func(tenantID, endpoint string) (Sender, error)

// CommandHandler is invoked for every command delivered to a consumer.
type CommandHandler func(CommandContext)

// CommandContext is the gateway's handle on one command in flight. The
// command must be settled exactly once (Accept, Reject or Release), and one
// unit of credit flowed back once the outcome is known.
type CommandContext interface {
	Command() *types.Command
	Accept()
	Reject(reason types.Condition)
	Release()
	// Flow replenishes credit to the backend subscription, allowing it to
	// dispatch further commands.
	Flow(credits int)
}

// CommandConsumer is a live backend command subscription.
type CommandConsumer interface {
	// Close closes the subscription. Closing twice is a no-op.
	Close()
}

// CommandSource creates command subscriptions for devices.
type CommandSource interface {
	// CreateCommandConsumer subscribes to commands for the given device.
	// onCommand is invoked per command; onClose when the subscription is
	// lost from the backend side. checkInterval bounds the liveness checks
	// of the subscription.
	CreateCommandConsumer(ctx context.Context, tenantID, deviceID string, onCommand CommandHandler, onClose func(), checkInterval time.Duration) (CommandConsumer, error)
}

// CommandResponseSender forwards device command responses to the backend.
type CommandResponseSender interface {
	SendCommandResponse(ctx context.Context, tenantID string, response *types.CommandResponse) error
}

// Notifier emits time-to-deliver notifications bounding the window in which a
// device is reachable for commands.
type Notifier interface {
	SendConnectedEvent(ctx context.Context, tenantID, deviceID string, identity *types.Identity) error
	SendDisconnectedEvent(ctx context.Context, tenantID, deviceID string, identity *types.Identity) error
}

// Connection is a full backend fabric connection.
type Connection interface {
	CommandSource
	CommandResponseSender
	Notifier

	Connect() error
	Disconnect() error
	NewSender(tenantID, endpoint string) (Sender, error)
}
