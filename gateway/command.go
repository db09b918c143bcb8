// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package gateway

import (
	"sync"

	"github.com/apex/log"

	"github.com/fieldlink/device-gateway/backend"
	"github.com/fieldlink/device-gateway/transport"
	"github.com/fieldlink/device-gateway/types"
)

// commandBinding ties a backend command subscription to the open
// command-receiving link of one device. Teardown can be triggered by a link
// detach, a link close or the loss of the connection; whichever fires first
// wins, the others are no-ops.
type commandBinding struct {
	gateway  *Gateway
	ctx      log.Interface
	link     transport.SenderLink
	identity *types.Identity
	tenantID string
	deviceID string

	consumer     backend.CommandConsumer
	teardownOnce sync.Once
}

// openCommandLink establishes the command channel for the device named by the
// link's source address. The backend subscription is created before the link
// opens; if that fails the device sees Service Unavailable and nothing is
// left behind. On success a "connected" notification tells the backend the
// device is ready for commands.
func (g *Gateway) openCommandLink(state *connState, link transport.SenderLink, address *types.ResourceAddress) {
	ctx := state.ctx.WithField("Link", link.Name()).
		WithField("TenantID", address.TenantID).WithField("DeviceID", address.DeviceID)

	binding := &commandBinding{
		gateway:  g,
		ctx:      ctx,
		link:     link,
		identity: state.identity,
		tenantID: address.TenantID,
		deviceID: address.DeviceID,
	}

	reqCtx, cancel := g.requestContext()
	consumer, err := g.commands.CreateCommandConsumer(reqCtx, address.TenantID, address.DeviceID, binding.onCommand, binding.onConsumerClose, g.config.CommandCheckInterval)
	cancel()
	if err != nil {
		ctx.WithError(err).Warn("Could not create command consumer")
		closeLinkWithError(ctx, link, types.NewServerError(503, "cannot create command consumer"))
		return
	}
	binding.consumer = consumer

	link.SetSource(link.RemoteSource())
	link.SetQoS(transport.AtLeastOnce)
	link.HandleDetach(func() {
		ctx.Debug("Command link detached")
		binding.teardown()
	})
	link.HandleClose(func() {
		ctx.Debug("Command link closed")
		binding.teardown()
	})
	state.setLossHandler(func(error) {
		binding.teardown()
	})
	link.Open()

	g.commandDevices.Add(deviceKey(address.TenantID, address.DeviceID))
	reqCtx, cancel = g.requestContext()
	if err := g.notifier.SendConnectedEvent(reqCtx, address.TenantID, address.DeviceID, state.identity); err != nil {
		ctx.WithError(err).Warn("Could not send connected notification")
	}
	cancel()
	ctx.Info("Command link opened")
}

// onCommand delivers one backend command to the device. Whatever happens to
// the command, exactly one unit of credit goes back to the subscription once
// its outcome is known, so there is never more than one command in flight per
// credit unit.
func (b *commandBinding) onCommand(cmd backend.CommandContext) {
	command := cmd.Command()
	if !command.IsValid() {
		b.ctx.Warn("Rejecting malformed command")
		cmd.Reject(types.Condition{Name: ConditionBadRequest, Description: "malformed command message"})
		commandsCounter.WithLabelValues("malformed").Inc()
		cmd.Flow(1)
		return
	}
	if !b.link.IsOpen() {
		b.ctx.Debug("Releasing command: link no longer open")
		cmd.Release()
		commandsCounter.WithLabelValues("released").Inc()
		cmd.Flow(1)
		return
	}

	message := command.Message()
	if message.CorrelationID == nil {
		message.CorrelationID = message.ID
	}

	b.ctx.WithField("Command", command.Name()).Debug("Sending command to device")
	b.link.Send(message, func(outcome transport.Outcome) {
		settleCommand(cmd, outcome)
	})
}

// onConsumerClose fires when the backend reports the subscription gone. The
// link stays open: the device may still upload, and the periodic liveness
// check will have told the backend the device is unreachable for commands.
func (b *commandBinding) onConsumerClose() {
	b.ctx.Warn("Command consumer closed by backend")
}

// teardown closes the backend subscription and tells the backend the device
// is no longer reachable. Runs at most once per binding.
func (b *commandBinding) teardown() {
	b.teardownOnce.Do(func() {
		b.ctx.Info("Tearing down command channel")
		reqCtx, cancel := b.gateway.requestContext()
		if err := b.gateway.notifier.SendDisconnectedEvent(reqCtx, b.tenantID, b.deviceID, b.identity); err != nil {
			b.ctx.WithError(err).Warn("Could not send disconnected notification")
		}
		cancel()
		b.consumer.Close()
		b.gateway.commandDevices.Remove(deviceKey(b.tenantID, b.deviceID))
	})
}

func deviceKey(tenantID, deviceID string) string {
	return tenantID + "/" + deviceID
}
