package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/teranos/nexus/am"
	"github.com/teranos/nexus/errors"
	"github.com/teranos/nexus/logger"
)

// Start listens on the configured port and serves until Shutdown
func (s *Server) Start() error {
	port := s.cfg.Port
	if port == 0 {
		port = am.DefaultServerPort
	}
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return errors.Wrapf(err, "listen on port %d", port)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener until Shutdown
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Infow("HTTP server listening", logger.FieldAddress, ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve http")
	}
	return nil
}

// Shutdown drains HTTP requests, closes WebSocket clients and stops the hub
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(ServerStateRunning), int32(ServerStateDraining)) {
		return nil
	}
	s.logger.Infow("Initiating server shutdown")

	var shutdownErr error
	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()
	if srv != nil {
		// Hijacked WebSocket connections are not tracked by Shutdown
		if err := srv.Shutdown(ctx); err != nil {
			shutdownErr = errors.Wrap(err, "shutdown http server")
		}
	}

	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
		delete(s.clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		s.logTransport.UnregisterClient(c.id)
	}

	// writePumps send a close frame on cancellation
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Infow("All goroutines stopped cleanly")
	case <-time.After(ShutdownTimeout):
		s.logger.Warnw("Goroutine shutdown timed out", logger.FieldTimeout, ShutdownTimeout.String())
	case <-ctx.Done():
		for _, c := range clients {
			c.conn.Close()
		}
		<-done
	}

	s.setState(ServerStateStopped)
	s.logger.Infow("Server shutdown complete", "broadcast_drops", s.broadcastDrops.Load())
	return shutdownErr
}
