// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package server accepts device connections on the configured listeners and
// hands them to the gateway through the wire codec.
package server

import (
	"crypto/tls"
	"net"
	"sync"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/fieldlink/device-gateway/transport"
)

// DefaultMaxFrameSize is the largest frame accepted from devices.
const DefaultMaxFrameSize uint32 = 32 * 1024

// ListenerConfig configures one of the server's listeners.
type ListenerConfig struct {
	Enabled bool
	Address string
}

// Config contains configuration for the Server
type Config struct {
	// Secure is the TLS listener for authenticated devices.
	Secure ListenerConfig
	// Insecure is the plain listener; only usable when the gateway does
	// not require authentication.
	Insecure ListenerConfig
	// TLS is required when the secure listener is enabled.
	TLS *tls.Config

	ContainerID           string
	MaxFrameSize          uint32
	RequireAuthentication bool
}

// Handler receives every connection the codec accepts.
type Handler func(transport.Connection)

// Server accepts device connections and runs the wire codec on them
type Server struct {
	ctx     log.Interface
	config  Config
	codec   transport.Codec
	handler Handler

	mu        sync.Mutex
	listeners []net.Listener
	closed    bool
}

// New returns a new Server passing accepted connections to handler.
func New(config Config, codec transport.Codec, handler Handler, ctx log.Interface) *Server {
	if config.MaxFrameSize == 0 {
		config.MaxFrameSize = DefaultMaxFrameSize
	}
	return &Server{
		ctx:     ctx.WithField("Codec", codec.Name()),
		config:  config,
		codec:   codec,
		handler: handler,
	}
}

// Start opens the enabled listeners. At least one listener must be enabled.
func (s *Server) Start() error {
	if !s.config.Secure.Enabled && !s.config.Insecure.Enabled {
		return errors.New("no listener enabled")
	}
	if s.config.Secure.Enabled {
		if s.config.TLS == nil {
			return errors.New("secure listener enabled without TLS configuration")
		}
		listener, err := tls.Listen("tcp", s.config.Secure.Address, s.config.TLS)
		if err != nil {
			return errors.Wrap(err, "could not open secure listener")
		}
		s.addListener(listener)
		s.ctx.WithField("Address", listener.Addr().String()).Info("Listening (secure)")
		go s.accept(listener)
	}
	if s.config.Insecure.Enabled {
		listener, err := net.Listen("tcp", s.config.Insecure.Address)
		if err != nil {
			s.Stop()
			return errors.Wrap(err, "could not open insecure listener")
		}
		s.addListener(listener)
		s.ctx.WithField("Address", listener.Addr().String()).Info("Listening (insecure)")
		go s.accept(listener)
	}
	return nil
}

// Addrs returns the addresses of the open listeners.
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, listener := range s.listeners {
		addrs = append(addrs, listener.Addr())
	}
	return addrs
}

func (s *Server) addListener(listener net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

func (s *Server) accept(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			s.ctx.WithError(err).Warn("Could not accept connection")
			continue
		}
		go s.serve(conn)
	}
}

// serve runs the codec's handshake on one accepted connection and hands the
// result to the handler. Handshake failures only affect this connection.
func (s *Server) serve(conn net.Conn) {
	ctx := s.ctx.WithField("RemoteAddr", conn.RemoteAddr().String())
	connection, err := s.codec.NewConnection(conn, transport.ConnectionOptions{
		ContainerID:           s.config.ContainerID,
		MaxFrameSize:          s.config.MaxFrameSize,
		RequireAuthentication: s.config.RequireAuthentication,
	})
	if err != nil {
		ctx.WithError(err).Warn("Could not negotiate connection")
		conn.Close()
		return
	}
	ctx.Debug("Negotiated connection")
	s.handler(connection)
}

// Stop closes all listeners. Connections already handed to the gateway are
// not affected.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, listener := range s.listeners {
		listener.Close()
	}
	s.listeners = nil
}
