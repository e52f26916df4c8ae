// Package api provides the HTTP REST API and WebSocket server for AquaNext Core.
//
// It exposes the live telemetry snapshot, the broker connection status and
// the operating mode control to the dashboard.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/eglab8306/aquanext-dashboard/internal/infrastructure/config"
	"github.com/eglab8306/aquanext-dashboard/internal/infrastructure/logging"
	"github.com/eglab8306/aquanext-dashboard/internal/infrastructure/metrics"
	"github.com/eglab8306/aquanext-dashboard/internal/infrastructure/mqtt"
	"github.com/eglab8306/aquanext-dashboard/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// StateSource is the read side of the telemetry store.
type StateSource interface {
	Snapshot() *telemetry.Snapshot
	Watch() (<-chan *telemetry.Snapshot, func())
	LastMessage() (telemetry.Message, bool)
	Stats() telemetry.StoreStats
	PendingMode() (telemetry.Mode, bool)
}

// ModeSetter issues operating mode commands.
type ModeSetter interface {
	Current() telemetry.Mode
	RequestMode(next string) error
	Toggle() (telemetry.Mode, error)
}

// BrokerStatus reports the broker connection.
type BrokerStatus interface {
	Status() mqtt.Status
	Endpoint() string
	LastError() error
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	State   StateSource
	Mode    ModeSetter
	Broker  BrokerStatus
	Metrics *metrics.Metrics // optional: /metrics and request instrumentation
	Version string
}

// Server is the HTTP API server for AquaNext Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	state     StateSource
	mode      ModeSetter
	broker    BrokerStatus
	metrics   *metrics.Metrics
	version   string
	startTime time.Time
	hub       *Hub
	cors      corsPolicy

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc // cancels background goroutines on Close()
	relayWG  sync.WaitGroup
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called. The WebSocket hub is
// created here so status callbacks can broadcast before Start.
//
// Parameters:
//   - deps: Required dependencies (logger, state, mode, broker)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.State == nil {
		return nil, fmt.Errorf("state source is required")
	}
	if deps.Mode == nil {
		return nil, fmt.Errorf("mode controller is required")
	}
	if deps.Broker == nil {
		return nil, fmt.Errorf("broker status is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		state:     deps.State,
		mode:      deps.Mode,
		broker:    deps.Broker,
		metrics:   deps.Metrics,
		version:   deps.Version,
		startTime: time.Now(),
		cors:      newCORSPolicy(deps.Config.CORS),
	}
	s.hub = NewHub(deps.WS, deps.Logger)
	s.hub.SetInitial(s.initialEvent)

	return s, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ObserveStatus broadcasts a broker status change to WebSocket clients.
// It matches the mqtt.Connector status callback signature.
func (s *Server) ObserveStatus(status mqtt.Status) {
	s.hub.Broadcast(ChannelConnectionStatus, s.connectionPayload(status))
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays snapshot changes from the store to
// subscribed clients, and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the hub and relay goroutines
//
// Returns:
//   - error: If the listener cannot be opened (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("listening on %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}

	srvCtx, cancel := context.WithCancel(ctx)

	srv := &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()

	go s.hub.Run(srvCtx)

	// Watch before returning so no snapshot published after Start is missed.
	snapshots, stopWatch := s.state.Watch()
	s.relayWG.Add(1)
	go s.relaySnapshots(srvCtx, snapshots, stopWatch)

	s.logger.Info("API server starting", "address", ln.Addr().String())

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.server, s.cancel = nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	// Stop hub and relay
	if cancel != nil {
		cancel()
	}
	s.relayWG.Wait()

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// relaySnapshots forwards every published snapshot to the hub.
func (s *Server) relaySnapshots(ctx context.Context, ch <-chan *telemetry.Snapshot, stop func()) {
	defer s.relayWG.Done()
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			s.hub.Broadcast(ChannelSnapshotChanged, snap)
		}
	}
}

// initialEvent supplies the current value of a channel to a new subscriber.
func (s *Server) initialEvent(channel string) (any, bool) {
	switch channel {
	case ChannelSnapshotChanged:
		return s.state.Snapshot(), true
	case ChannelConnectionStatus:
		return s.connectionPayload(s.broker.Status()), true
	default:
		return nil, false
	}
}

// connectionPayload is the body of a connection.status event.
func (s *Server) connectionPayload(status mqtt.Status) ConnectionStatus {
	cs := ConnectionStatus{
		Status:   status,
		Endpoint: s.broker.Endpoint(),
	}
	if err := s.broker.LastError(); err != nil {
		cs.LastError = err.Error()
	}
	return cs
}
