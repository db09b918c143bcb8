// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package backend

import (
	"sync"

	"github.com/apex/log"
)

// Pool shares downstream senders across connections: at most one sender
// exists per tenant and endpoint. Concurrent creation converges on a single
// winning instance; losers are closed and discarded.
type Pool struct {
	ctx     log.Interface
	factory SenderFactory
	senders sync.Map
}

// NewPool returns a pool creating senders through the given factory.
func NewPool(factory SenderFactory, ctx log.Interface) *Pool {
	return &Pool{
		ctx:     ctx,
		factory: factory,
	}
}

// Get returns the sender for the tenant and endpoint, creating it if needed.
func (p *Pool) Get(tenantID, endpoint string) (Sender, error) {
	key := endpoint + "/" + tenantID
	if existing, ok := p.senders.Load(key); ok {
		return existing.(Sender), nil
	}
	sender, err := p.factory(tenantID, endpoint)
	if err != nil {
		return nil, err
	}
	if winner, loaded := p.senders.LoadOrStore(key, sender); loaded {
		// lost the creation race
		if err := sender.Close(); err != nil {
			p.ctx.WithField("Sender", key).WithError(err).Warn("Could not close redundant sender")
		}
		return winner.(Sender), nil
	}
	return sender, nil
}

// Remove drops the sender for the tenant and endpoint, closing it.
func (p *Pool) Remove(tenantID, endpoint string) {
	key := endpoint + "/" + tenantID
	if sender, ok := p.senders.LoadAndDelete(key); ok {
		if err := sender.(Sender).Close(); err != nil {
			p.ctx.WithField("Sender", key).WithError(err).Warn("Could not close sender")
		}
	}
}

// Close closes all pooled senders.
func (p *Pool) Close() {
	p.senders.Range(func(key, value interface{}) bool {
		if err := value.(Sender).Close(); err != nil {
			p.ctx.WithField("Sender", key.(string)).WithError(err).Warn("Could not close sender")
		}
		p.senders.Delete(key)
		return true
	})
}
