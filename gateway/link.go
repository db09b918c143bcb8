// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package gateway

import (
	"sync"

	"github.com/apex/log"

	"github.com/fieldlink/device-gateway/transport"
	"github.com/fieldlink/device-gateway/types"
)

// uploadLink pumps the deliveries of one uploading link through the router.
// Deliveries are processed by a single goroutine so dispositions keep the
// link's FIFO order; the channel capacity matches the link credit, so the
// device can never have more messages in flight than it has credit for.
type uploadLink struct {
	gateway  *Gateway
	ctx      log.Interface
	link     transport.ReceiverLink
	identity *types.Identity

	deliveries chan upload
	done       chan struct{}
	stopOnce   sync.Once
}

type upload struct {
	delivery transport.Delivery
	message  *types.Message
}

// stop synchronously ends message dispatch through this link. Deliveries
// still queued are dropped; their senders will see them unsettled and retry.
func (u *uploadLink) stop() {
	u.stopOnce.Do(func() {
		close(u.done)
	})
}

func (u *uploadLink) run() {
	for {
		select {
		case <-u.done:
			return
		case upload := <-u.deliveries:
			u.gateway.processUpload(u, upload)
		}
	}
}

// onReceiverOpen negotiates an uploading link. The gateway must see a
// disposition for every message, so a link that only sends pre-settled is
// rejected, as is a link that pre-declares a target: devices address every
// message individually.
func (g *Gateway) onReceiverOpen(state *connState, link transport.ReceiverLink) {
	ctx := state.ctx.WithField("Link", link.Name())

	if link.RemoteQoS() == transport.AtMostOnce {
		closeLinkWithError(ctx, link, types.NewClientError(400, "link must not use snd-settle-mode 'settled'"))
		return
	}
	if link.RemoteTarget() != "" {
		closeLinkWithError(ctx, link, types.NewClientError(400, "this gateway supports anonymous relay mode only"))
		return
	}

	ul := &uploadLink{
		gateway:    g,
		ctx:        ctx,
		link:       link,
		identity:   state.identity,
		deliveries: make(chan upload, g.config.LinkCredit),
		done:       make(chan struct{}),
	}

	link.SetSource(link.RemoteSource())
	link.SetTarget(link.RemoteTarget())
	link.SetQoS(link.RemoteQoS())
	link.SetAutoSettle(false)
	link.SetPrefetch(g.config.LinkCredit)
	link.HandleDetach(func() {
		ctx.Debug("Link detached")
		ul.stop()
	})
	link.HandleClose(func() {
		ctx.Debug("Link closed")
		ul.stop()
	})
	link.HandleMessage(func(delivery transport.Delivery, message *types.Message) {
		select {
		case ul.deliveries <- upload{delivery, message}:
		case <-ul.done:
		}
	})

	go ul.run()
	state.addUpload(ul)
	link.Open()
	ctx.Debug("Uploading link opened")
}

// onSenderOpen negotiates a command-receiving link. The source address must
// resolve to the command endpoint of a tenant and device this connection may
// act for; the command channel then owns the link.
func (g *Gateway) onSenderOpen(state *connState, link transport.SenderLink) {
	ctx := state.ctx.WithField("Link", link.Name())

	address, err := g.sourceAddress(link, state.identity)
	if err != nil {
		closeLinkWithError(ctx, link, err)
		return
	}
	g.openCommandLink(state, link, address)
}
