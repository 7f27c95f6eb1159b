package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/openrgb-bridge/internal/bridges/openrgb"
	"github.com/nerrad567/openrgb-bridge/internal/dispatcher"
	"github.com/nerrad567/openrgb-bridge/internal/infrastructure/config"
	"github.com/nerrad567/openrgb-bridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// LightController is the bridge surface the API drives.
// *openrgb.Bridge implements it.
type LightController interface {
	Lights() []openrgb.LightState
	Light(key string) (openrgb.LightState, error)
	TurnOn(ctx context.Context, key string, p openrgb.TurnOnParams) (openrgb.LightState, error)
	TurnOff(ctx context.Context, key string) (openrgb.LightState, error)
	CallService(ctx context.Context, name string) error
	Status() openrgb.HealthMessage
}

// EventSource delivers bridge events to the WebSocket hub.
// *dispatcher.Dispatcher implements it.
type EventSource interface {
	Subscribe(signal dispatcher.Signal, handler dispatcher.Handler) func()
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Bridge  LightController
	Events  EventSource // optional: without it the WebSocket stream stays silent
	Audit   AuditLog    // optional: without it commands are not audited
	Version string
}

// Server is the HTTP API server of the bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	logger  *logging.Logger
	bridge  LightController
	events  EventSource
	audit   AuditLog
	version string
	started time.Time

	server   *http.Server
	listener net.Listener
	hub      *Hub
	cancel   context.CancelFunc // cancels background goroutines on Close()

	mu          sync.Mutex
	unsubscribe []func()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, bridge)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}

	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		bridge:  deps.Bridge,
		events:  deps.Events,
		audit:   deps.Audit,
		version: deps.Version,
		started: time.Now(),
		hub:     NewHub(deps.WS, deps.Logger),
	}, nil
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes the hub to bridge events, binds
// the listen address and serves in a background goroutine. The server can
// be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the hub and event relay
//
// Returns:
//   - error: If the listen address cannot be bound
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)
	s.subscribeEvents()

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	s.unsubscribeEvents()
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// subscribeEvents relays bridge events to WebSocket clients.
func (s *Server) subscribeEvents() {
	if s.events == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		return
	}
	for signal, channel := range eventChannels {
		s.unsubscribe = append(s.unsubscribe, s.events.Subscribe(signal, func(ev dispatcher.Event) {
			s.hub.Broadcast(channel, eventPayload(ev))
		}))
	}
}

func (s *Server) unsubscribeEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, unsub := range s.unsubscribe {
		unsub()
	}
	s.unsubscribe = nil
}
