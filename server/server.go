// Package server binds the orchestrator API to HTTP and streams run events
// to dashboard clients over WebSocket.
package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/teranos/nexus/am"
	"github.com/teranos/nexus/api"
	"github.com/teranos/nexus/errors"
	"github.com/teranos/nexus/logger"
	"github.com/teranos/nexus/pulse/runner"
	"github.com/teranos/nexus/server/wslogs"
)

// Dispatcher executes one orchestrator request
type Dispatcher interface {
	Dispatch(ctx context.Context, req api.Request) api.Response
}

// Options wires a Server
type Options struct {
	Dispatcher Dispatcher
	Config     am.ServerConfig

	// Health probes the ledger; nil means always healthy
	Health func(ctx context.Context) error

	// Logs captures per-run log output; nil disables log streaming
	Logs         *wslogs.Core
	LogTransport *wslogs.Transport

	Logger *zap.SugaredLogger
}

// Server serves POST /api/nexus, GET /health and GET /ws
type Server struct {
	dispatcher   Dispatcher
	cfg          am.ServerConfig
	health       func(ctx context.Context) error
	logs         *wslogs.Core
	logTransport *wslogs.Transport
	limiter      *rateLimiter
	logger       *zap.SugaredLogger

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan any
	mu         sync.RWMutex

	httpServer *http.Server

	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	broadcastDrops atomic.Int64
	state          atomic.Int32
}

// New creates a server and starts its client hub
func New(opts Options) (*Server, error) {
	if opts.Dispatcher == nil {
		return nil, errors.New("server: dispatcher is required")
	}
	log := opts.Logger
	if log == nil {
		log = logger.ComponentLogger("server")
	}
	transport := opts.LogTransport
	if transport == nil {
		transport = wslogs.NewTransport()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		dispatcher:   opts.Dispatcher,
		cfg:          opts.Config,
		health:       opts.Health,
		logs:         opts.Logs,
		logTransport: transport,
		limiter:      newRateLimiter(opts.Config.RateLimitPerMinute, opts.Config.RateLimitBurst),
		logger:       log,
		clients:      make(map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		broadcast:    make(chan any, broadcastBuffer),
		ctx:          ctx,
		cancel:       cancel,
	}
	s.state.Store(int32(ServerStateRunning))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run()
	}()
	return s, nil
}

// RunCompleted is a runner observer: it sends the run's captured logs,
// then announces the run to every client
func (s *Server) RunCompleted(run runner.JobRun) {
	if s.logs != nil {
		s.logs.Flush(run.ID)
	}

	select {
	case s.broadcast <- RunEvent{Type: EventRunComplete, Run: run}:
	case <-s.ctx.Done():
	default:
		s.broadcastDrops.Add(1)
		s.logger.Warnw("Broadcast queue full, dropping run event",
			logger.FieldEngine, run.Engine,
			logger.FieldRunID, run.ID)
	}
}

// ClientCount returns the number of connected WebSocket clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// State returns the lifecycle state
func (s *Server) State() ServerState {
	return ServerState(s.state.Load())
}

func (s *Server) setState(state ServerState) {
	s.state.Store(int32(state))
	s.logger.Infow("Server state changed", logger.FieldStatus, state.String())
}
