// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultMetricsPath is where a MetricsServer exposes its registry
// unless configured otherwise.
const DefaultMetricsPath = "/metrics"

// MetricsServer exposes a Prometheus registry over HTTP on a TCP
// listener. Every other path answers 404.
//
// Serve(ctx) blocks until the context is cancelled and in-flight
// scrapes drain, the same lifecycle as SocketServer.
type MetricsServer struct {
	address         string
	path            string
	gatherer        prometheus.Gatherer
	logger          *slog.Logger
	shutdownTimeout time.Duration

	ready chan struct{}
	addr  net.Addr
}

// MetricsServerConfig configures a MetricsServer.
type MetricsServerConfig struct {
	// Address is the TCP listen address, such as "127.0.0.1:9100".
	// Required.
	Address string

	// Gatherer supplies the metric families to expose. Required.
	Gatherer prometheus.Gatherer

	// Path is the scrape path. Defaults to DefaultMetricsPath.
	Path string

	// ShutdownTimeout bounds how long Serve waits for in-flight
	// scrapes after the context is cancelled. Defaults to 10 seconds.
	ShutdownTimeout time.Duration

	// Logger is the structured logger. Required.
	Logger *slog.Logger
}

// NewMetricsServer creates a server for config. Call Serve to start
// accepting scrapes.
func NewMetricsServer(config MetricsServerConfig) *MetricsServer {
	switch {
	case config.Address == "":
		panic("service.MetricsServer: Address is required")
	case config.Gatherer == nil:
		panic("service.MetricsServer: Gatherer is required")
	case config.Logger == nil:
		panic("service.MetricsServer: Logger is required")
	}
	if config.Path == "" {
		config.Path = DefaultMetricsPath
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	return &MetricsServer{
		address:         config.Address,
		path:            config.Path,
		gatherer:        config.Gatherer,
		logger:          config.Logger,
		shutdownTimeout: config.ShutdownTimeout,
		ready:           make(chan struct{}),
	}
}

// Ready is closed once the listener is bound.
func (s *MetricsServer) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, with the real port when Address
// asked for port 0. Only valid after Ready is closed.
func (s *MetricsServer) Addr() net.Addr {
	return s.addr
}

// handler routes the scrape path to the exposition handler. Gather
// errors are logged and the families that did gather are still served.
func (s *MetricsServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
		ErrorHandling: promhttp.ContinueOnError,
	}))
	return mux
}

// Serve binds the listener and serves scrapes until ctx is cancelled,
// then shuts down gracefully.
func (s *MetricsServer) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	server := &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Info("metrics server listening", "address", s.addr.String(), "path", s.path)

	serveDone := make(chan error, 1)
	go func() { serveDone <- server.Serve(listener) }()

	select {
	case err := <-serveDone:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving metrics: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down metrics server: %w", err)
	}
	s.logger.Info("metrics server stopped")
	return nil
}
