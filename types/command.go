// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package types

// Command is a backend-originated instruction bound to a (tenant, device)
// pair. A command is valid when it carries a name, a correlation ID (falling
// back to the message ID) and a reply-to address naming the command endpoint
// and the target tenant and device.
type Command struct {
	TenantID string
	DeviceID string

	message       *Message
	name          string
	correlationID string
	replyToID     string
	valid         bool
}

// CommandFromMessage creates a Command for the given target device from a
// backend message. The returned command may be invalid; check IsValid before
// sending it anywhere.
func CommandFromMessage(message *Message, tenantID, deviceID string) *Command {
	cmd := &Command{
		TenantID: tenantID,
		DeviceID: deviceID,
		message:  message,
		name:     message.Subject,
	}
	cmd.correlationID = message.CorrelationIDString()
	if cmd.correlationID == "" {
		cmd.correlationID = message.ID
	}
	replyTo, err := ParseResourceAddress(message.ReplyTo)
	if err == nil &&
		replyTo.Endpoint == EndpointCommand &&
		replyTo.TenantID == tenantID &&
		replyTo.DeviceID == deviceID &&
		len(replyTo.Extra) > 0 {
		cmd.replyToID = replyTo.ReplyToID()
	}
	cmd.valid = cmd.name != "" && cmd.correlationID != "" && cmd.replyToID != ""
	return cmd
}

// IsValid reports whether the command is well-formed.
func (c *Command) IsValid() bool {
	return c.valid
}

// Name returns the command name.
func (c *Command) Name() string {
	return c.name
}

// CorrelationID returns the command's correlation ID, falling back to the
// message ID when the backend did not set one.
func (c *Command) CorrelationID() string {
	return c.correlationID
}

// ReplyToID returns the reply-to identifier the device should answer to,
// rejoined as <deviceId>/<replyToId...>.
func (c *Command) ReplyToID() string {
	return c.replyToID
}

// Message returns the underlying message to be pushed down the device link.
func (c *Command) Message() *Message {
	return c.message
}

// ApplicationProperties returns the application properties of the underlying
// message, or nil.
func (c *Command) ApplicationProperties() map[string]interface{} {
	if c.message == nil {
		return nil
	}
	return c.message.Properties
}

// CommandResponse is a device's answer to a command, forwarded to the backend
// command-response channel.
type CommandResponse struct {
	TenantID      string
	DeviceID      string
	ReplyToID     string
	CorrelationID string
	Status        int
	ContentType   string
	Payload       []byte
}

// NewCommandResponse builds a command response from an uploaded message's
// parts. It returns nil if the response is malformed: a correlation ID and a
// status code in the 2xx-5xx range are required.
func NewCommandResponse(payload []byte, contentType string, status int, correlationID string, address *ResourceAddress) *CommandResponse {
	if correlationID == "" || status < 200 || status >= 600 {
		return nil
	}
	return &CommandResponse{
		TenantID:      address.TenantID,
		DeviceID:      address.DeviceID,
		ReplyToID:     address.ReplyToID(),
		CorrelationID: correlationID,
		Status:        status,
		ContentType:   contentType,
		Payload:       payload,
	}
}
