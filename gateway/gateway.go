// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package gateway routes device traffic between the link-oriented device
// transport and the backend messaging fabric.
//
// Devices connect over a credit-based transport and open uploading links for
// telemetry, events and command responses, and command-receiving links for
// backend-issued commands. The gateway authorizes every connection and link,
// validates every uploaded message, forwards it to the backend sender of the
// matching endpoint and reflects the backend's outcome back to the device as
// a delivery disposition.
package gateway

import (
	"context"
	"time"

	"github.com/apex/log"
	"github.com/deckarep/golang-set"

	"github.com/fieldlink/device-gateway/backend"
	"github.com/fieldlink/device-gateway/registry"
)

// AdapterType identifies this gateway in tenant adapter-enablement policy
const AdapterType = "amqp"

// Config contains configuration for the Gateway
type Config struct {
	// AuthenticationRequired rejects connections without an authenticated
	// identity before they are opened.
	AuthenticationRequired bool
	// MaxSessionWindow is the incoming capacity in bytes advertised on
	// every session.
	MaxSessionWindow uint32
	// LinkCredit is the prefetch granted to every uploading link.
	LinkCredit int
	// CommandCheckInterval is how often backend command subscriptions are
	// checked for liveness.
	CommandCheckInterval time.Duration
	// RequestTimeout bounds every registry lookup and backend forward.
	RequestTimeout time.Duration
}

// Default config values
var (
	DefaultMaxSessionWindow     uint32 = 100 * 32 * 1024
	DefaultLinkCredit                  = 30
	DefaultCommandCheckInterval        = 10 * time.Second
	DefaultRequestTimeout              = 10 * time.Second
)

// Backends are the gateway's backend collaborators.
type Backends struct {
	// Senders creates the per-tenant downstream senders.
	Senders backend.SenderFactory
	// Commands delivers backend-issued commands to devices.
	Commands backend.CommandSource
	// Responses carries device command responses back to the backend.
	Responses backend.CommandResponseSender
	// Notifier announces device reachability.
	Notifier backend.Notifier
}

// Gateway routes messages between devices and the backend messaging fabric
type Gateway struct {
	ctx    log.Interface
	config Config

	registry registry.Interface

	senders   *backend.Pool
	commands  backend.CommandSource
	responses backend.CommandResponseSender
	notifier  backend.Notifier

	commandDevices mapset.Set
}

// New initializes a new Gateway
func New(config Config, registry registry.Interface, backends Backends, ctx log.Interface) *Gateway {
	if config.MaxSessionWindow == 0 {
		config.MaxSessionWindow = DefaultMaxSessionWindow
	}
	if config.LinkCredit == 0 {
		config.LinkCredit = DefaultLinkCredit
	}
	if config.CommandCheckInterval == 0 {
		config.CommandCheckInterval = DefaultCommandCheckInterval
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	return &Gateway{
		ctx:              ctx,
		config:           config,
		registry:         registry,
		senders:          backend.NewPool(backends.Senders, ctx),
		commands:         backends.Commands,
		responses:        backends.Responses,
		notifier:         backends.Notifier,
		commandDevices:   mapset.NewSet(),
	}
}

// Close releases the gateway's shared backend resources.
func (g *Gateway) Close() {
	g.senders.Close()
}

// CommandDevices returns the number of devices with an open command channel.
func (g *Gateway) CommandDevices() int {
	return g.commandDevices.Cardinality()
}

func (g *Gateway) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.config.RequestTimeout)
}
