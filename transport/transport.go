// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package transport defines the message-oriented transport the gateway
// terminates. The wire codec (framing, message encoding, authentication
// handshake) lives behind these interfaces; the gateway only reacts to the
// events they surface.
//
// All handlers registered on a connection, its sessions and its links are
// invoked sequentially per connection. Implementations must not invoke two
// handlers of the same connection concurrently.
package transport

import "github.com/fieldlink/device-gateway/types"

// QoS is the negotiated delivery guarantee of a link.
type QoS int

// Link quality-of-service levels.
const (
	AtMostOnce QoS = iota
	AtLeastOnce
)

func (q QoS) String() string {
	if q == AtMostOnce {
		return "at-most-once"
	}
	return "at-least-once"
}

// DeliveryState is the disposition recorded against a delivery.
type DeliveryState int

// Delivery states.
const (
	DeliveryNone DeliveryState = iota
	DeliveryAccepted
	DeliveryRejected
	DeliveryReleased
)

func (s DeliveryState) String() string {
	switch s {
	case DeliveryAccepted:
		return "accepted"
	case DeliveryRejected:
		return "rejected"
	case DeliveryReleased:
		return "released"
	default:
		return "none"
	}
}

// Outcome is the remote peer's verdict on a sent message.
type Outcome struct {
	// Settled reports whether the peer settled the delivery.
	Settled bool
	// State is the disposition the peer recorded.
	State DeliveryState
	// Reason is set when the peer rejected the delivery.
	Reason *types.Condition
}

// Connection is one transport-level session with a remote peer. The
// authentication handshake has already run when the gateway sees it.
type Connection interface {
	// AuthenticatedIdentity returns the identity established during the
	// handshake, or nil for an anonymous peer.
	AuthenticatedIdentity() *types.Identity
	// RemoteContainer returns the peer's container name.
	RemoteContainer() string
	// SetContainer sets the local container name advertised to the peer.
	SetContainer(name string)

	// Open accepts the connection.
	Open()
	// Close closes the connection, optionally with an error condition.
	Close(condition *types.Condition)

	// HandleDisconnect registers the handler invoked when the underlying
	// connection is lost without a close frame.
	HandleDisconnect(handler func())
	// HandleRemoteClose registers the handler invoked when the peer closes
	// the connection; err is non-nil if the peer signalled an error.
	HandleRemoteClose(handler func(err error))
	// HandleSessionOpen registers the handler invoked when the peer begins
	// a session.
	HandleSessionOpen(handler func(Session))
	// HandleReceiverOpen registers the handler invoked when the peer
	// attaches a link for uploading messages.
	HandleReceiverOpen(handler func(ReceiverLink))
	// HandleSenderOpen registers the handler invoked when the peer attaches
	// a link for receiving commands.
	HandleSenderOpen(handler func(SenderLink))
}

// Session is a negotiated flow-control scope within a connection.
type Session interface {
	// SetIncomingWindow sets the buffer budget advertised to the peer.
	SetIncomingWindow(size uint32)
	// Open accepts the session.
	Open()
}

// Link is the common surface of uploading and command-receiving links.
type Link interface {
	Name() string
	RemoteSource() string
	RemoteTarget() string
	RemoteQoS() QoS

	SetSource(address string)
	SetTarget(address string)
	SetQoS(qos QoS)

	Open()
	Close(condition *types.Condition)

	HandleDetach(handler func())
	HandleClose(handler func())
}

// ReceiverLink is a device-to-gateway link carrying uploaded messages.
type ReceiverLink interface {
	Link

	// SetPrefetch issues the initial credit window to the peer.
	SetPrefetch(credits int)
	// SetAutoSettle controls whether deliveries are settled automatically.
	// The gateway disables this and records dispositions explicitly.
	SetAutoSettle(auto bool)
	// HandleMessage registers the per-message handler. The handler must not
	// block; at most the prefetch window of deliveries is outstanding.
	HandleMessage(handler func(Delivery, *types.Message))
	// Flow replenishes credit consumed by settled deliveries.
	Flow(credits int)
}

// SenderLink is a gateway-to-device link carrying commands.
type SenderLink interface {
	Link

	// IsOpen reports whether the link is currently attached and usable.
	IsOpen() bool
	// Send pushes a message to the peer. The outcome callback is invoked
	// exactly once when the peer's disposition is known; it may run on a
	// different goroutine than the caller's.
	Send(message *types.Message, outcome func(Outcome))
}

// Delivery is the gateway's handle on one uploaded message, consumed once.
type Delivery interface {
	// RemotelySettled reports whether the peer sent the message pre-settled
	// (fire and forget).
	RemotelySettled() bool

	Accept()
	Reject(reason types.Condition)
	Release()
}
