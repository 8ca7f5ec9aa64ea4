package mux

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/soheilhy/cmux"

	"scrapekit/internal/config"
	"scrapekit/internal/grpc/server"
	"scrapekit/internal/logging"
	"scrapekit/internal/logging/types"
)

// Multiplexer serves gRPC and HTTP on one listener, split by cmux
type Multiplexer struct {
	grpcServer *server.Server
	httpServer *http.Server
	logger     types.Logger

	mux      cmux.CMux
	listener net.Listener
	wg       sync.WaitGroup
}

// NewMultiplexer creates a new protocol multiplexer
func NewMultiplexer(cfg config.ServerConfig, httpHandler http.Handler, grpcServer *server.Server) *Multiplexer {
	return &Multiplexer{
		grpcServer: grpcServer,
		logger:     logging.GetGlobalLogger().WithField("component", "multiplexer"),
		httpServer: &http.Server{
			Handler:           httpHandler,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       cfg.IdleTimeout,
		},
	}
}

// Start listens on address and serves both protocols in the background
func (m *Multiplexer) Start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	m.listener = listener
	m.mux = cmux.New(listener)

	grpcListener := m.mux.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpListener := m.mux.Match(cmux.HTTP1Fast())

	m.wg.Add(3)
	go func() {
		defer m.wg.Done()
		if err := m.grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, cmux.ErrListenerClosed) && !errors.Is(err, cmux.ErrServerClosed) {
			m.logger.Error("gRPC server failed", map[string]interface{}{"error": err.Error()})
		}
	}()
	go func() {
		defer m.wg.Done()
		if err := m.httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, cmux.ErrListenerClosed) && !errors.Is(err, cmux.ErrServerClosed) {
			m.logger.Error("HTTP server failed", map[string]interface{}{"error": err.Error()})
		}
	}()
	go func() {
		defer m.wg.Done()
		if err := m.mux.Serve(); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, cmux.ErrServerClosed) {
			m.logger.Error("Multiplexer failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	m.logger.Info("Multiplexer started successfully", map[string]interface{}{
		"address": listener.Addr().String(),
	})
	return nil
}

// Stop shuts down HTTP then gRPC, then closes the shared listener
func (m *Multiplexer) Stop(ctx context.Context) error {
	m.logger.Info("Stopping multiplexer", map[string]interface{}{})

	var stopErr error
	if err := m.httpServer.Shutdown(ctx); err != nil {
		m.logger.Error("HTTP server shutdown failed", map[string]interface{}{"error": err.Error()})
		stopErr = err
	}
	m.grpcServer.Stop(ctx)

	if m.mux != nil {
		m.mux.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("Multiplexer stopped gracefully", map[string]interface{}{})
	case <-ctx.Done():
		m.logger.Warn("Multiplexer shutdown timed out", map[string]interface{}{})
		return ctx.Err()
	}
	return stopErr
}

// Addr returns the address the multiplexer is listening on
func (m *Multiplexer) Addr() string {
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return ""
}
