// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpserver runs an http.Handler on a TCP listener for the
// lifetime of a context.
//
// Serve binds (or adopts) the listener, closes Ready once connections
// are accepted, and blocks until the context is cancelled. Cancellation
// starts a graceful shutdown: the listener closes immediately and
// in-flight requests get ShutdownTimeout to finish.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// DefaultShutdownTimeout bounds graceful shutdown when
// Config.ShutdownTimeout is zero.
const DefaultShutdownTimeout = 10 * time.Second

// Config configures a Server.
type Config struct {
	// Address is the TCP listen address, e.g. "127.0.0.1:8080" or
	// ":0". Ignored when Listener is set.
	Address string

	// Listener is an already-bound listener to serve on. The Server
	// takes ownership and closes it on shutdown.
	Listener net.Listener

	// Handler serves every request. Required.
	Handler http.Handler

	// ShutdownTimeout bounds the wait for in-flight requests after
	// the context is cancelled.
	ShutdownTimeout time.Duration

	// Logger is used for lifecycle messages. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Server is a single-use HTTP server. Serve may be called once.
type Server struct {
	address         string
	listener        net.Listener
	handler         http.Handler
	shutdownTimeout time.Duration
	logger          *slog.Logger

	// ready is closed once addr is set and the server is accepting.
	ready chan struct{}
	addr  net.Addr
}

// New validates config and returns an unstarted Server.
func New(config Config) (*Server, error) {
	if config.Handler == nil {
		return nil, errors.New("httpserver: Handler is required")
	}
	if config.Listener == nil && config.Address == "" {
		return nil, errors.New("httpserver: Address or Listener is required")
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Server{
		address:         config.Address,
		listener:        config.Listener,
		handler:         config.Handler,
		shutdownTimeout: config.ShutdownTimeout,
		logger:          config.Logger,
		ready:           make(chan struct{}),
	}, nil
}

// Ready returns a channel closed once the server is accepting
// connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address. Valid only after Ready is closed;
// with port 0 it carries the port the OS assigned.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Serve accepts connections until ctx is cancelled, then shuts down.
// It returns nil after a clean shutdown, or the first error from
// binding, serving, or draining.
func (s *Server) Serve(ctx context.Context) error {
	listener := s.listener
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", s.address)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", s.address, err)
		}
	}
	s.addr = listener.Addr()

	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	served := make(chan error, 1)
	go func() {
		served <- server.Serve(listener)
	}()
	close(s.ready)
	s.logger.Info("http server listening", "address", s.addr.String())

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving on %s: %w", s.addr, err)
	case <-ctx.Done():
	}

	s.logger.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		server.Close()
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
