// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package status serves the gateway's health and metrics over HTTP.
package status

import (
	"net"
	"net/http"
	"sync"

	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves /healthz and /metrics
type Server struct {
	ctx      log.Interface
	address  string
	healthy  func() bool
	mu       sync.Mutex
	listener net.Listener
}

// New returns a status server on the given address. healthy is consulted on
// every health check; nil means always healthy.
func New(address string, healthy func() bool, ctx log.Interface) *Server {
	return &Server{
		ctx:     ctx.WithField("Component", "Status"),
		address: address,
		healthy: healthy,
	}
}

// Start opens the status listener and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if s.healthy != nil && !s.healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("unhealthy"))
			return
		}
		w.Write([]byte("ok"))
	})

	s.ctx.WithField("Address", listener.Addr().String()).Info("Serving status")
	go func() {
		if err := http.Serve(listener, mux); err != nil {
			s.mu.Lock()
			closed := s.listener == nil
			s.mu.Unlock()
			if !closed {
				s.ctx.WithError(err).Warn("Status server stopped")
			}
		}
	}()
	return nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the status listener.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
}
