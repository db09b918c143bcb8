// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package gateway

import (
	"sync"

	"github.com/apex/log"

	"github.com/fieldlink/device-gateway/transport"
	"github.com/fieldlink/device-gateway/types"
)

// ContainerName is announced to every connecting device
const ContainerName = "fieldlink-device-gateway"

// connState is the gateway's view of one device connection. All fields are
// only mutated from the connection's own event callbacks; the mutex guards
// against the loss handler firing from another goroutine.
type connState struct {
	ctx      log.Interface
	identity *types.Identity

	mu          sync.Mutex
	lossHandler func(error)
	lossOnce    sync.Once
	uploads     []*uploadLink
}

// setLossHandler installs the connection's loss notification callback. A
// connection carries at most one; installing a new one replaces the old.
func (s *connState) setLossHandler(handler func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lossHandler = handler
}

func (s *connState) addUpload(link *uploadLink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, link)
}

// onLoss runs the connection teardown exactly once, whether the transport
// reports a disconnect or a remote close first.
func (s *connState) onLoss(err error) {
	s.lossOnce.Do(func() {
		if err != nil {
			s.ctx.WithError(err).Info("Connection lost")
		} else {
			s.ctx.Info("Connection closed")
		}
		s.mu.Lock()
		uploads := s.uploads
		handler := s.lossHandler
		s.mu.Unlock()
		for _, link := range uploads {
			link.stop()
		}
		if handler != nil {
			handler(err)
		}
		connectedDevices.Dec()
	})
}

// HandleConnection authorizes and opens a freshly accepted device connection.
// It is the entry point wired into the transport server.
func (g *Gateway) HandleConnection(conn transport.Connection) {
	identity := conn.AuthenticatedIdentity()
	ctx := g.ctx.WithField("Container", conn.RemoteContainer())
	if identity != nil {
		ctx = ctx.WithField("TenantID", identity.TenantID).WithField("DeviceID", identity.DeviceID)
	}

	if g.config.AuthenticationRequired && identity == nil {
		ctx.Warn("Rejecting unauthenticated connection")
		connectionsCounter.WithLabelValues("unauthorized").Inc()
		conn.Close(&types.Condition{Name: ConditionUnauthorized, Description: "anonymous connections not allowed"})
		return
	}

	if identity != nil {
		reqCtx, cancel := g.requestContext()
		enabled, err := g.registry.IsDeviceEnabled(reqCtx, *identity)
		cancel()
		if err != nil {
			ctx.WithError(err).Warn("Could not verify device")
			connectionsCounter.WithLabelValues("error").Inc()
			condition := conditionFor(err)
			conn.Close(&condition)
			return
		}
		if !enabled {
			ctx.Warn("Rejecting disabled device")
			connectionsCounter.WithLabelValues("forbidden").Inc()
			conn.Close(&types.Condition{Name: ConditionUnauthorized, Description: "device or gateway not enabled"})
			return
		}
	}

	state := &connState{
		ctx:      ctx,
		identity: identity,
	}

	conn.SetContainer(ContainerName)
	conn.HandleDisconnect(func() {
		state.onLoss(nil)
	})
	conn.HandleRemoteClose(state.onLoss)
	conn.HandleSessionOpen(g.onSessionOpen)
	conn.HandleReceiverOpen(func(link transport.ReceiverLink) {
		g.onReceiverOpen(state, link)
	})
	conn.HandleSenderOpen(func(link transport.SenderLink) {
		g.onSenderOpen(state, link)
	})
	conn.Open()

	connectionsCounter.WithLabelValues("accepted").Inc()
	connectedDevices.Inc()
	ctx.Info("Connection opened")
}

// onSessionOpen advertises the configured window and opens the session. There
// is no further negotiation.
func (g *Gateway) onSessionOpen(session transport.Session) {
	session.SetIncomingWindow(g.config.MaxSessionWindow)
	session.Open()
}
