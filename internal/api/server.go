package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/lw2bacnet/bridge/internal/bacnet"
	"github.com/lw2bacnet/bridge/internal/bridges/lorawan"
	"github.com/lw2bacnet/bridge/internal/identity"
	"github.com/lw2bacnet/bridge/internal/infrastructure/config"
	"github.com/lw2bacnet/bridge/internal/infrastructure/influxdb"
	"github.com/lw2bacnet/bridge/internal/infrastructure/logging"
	"github.com/lw2bacnet/bridge/internal/objects"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Store is the read side of the identity store used by the API.
type Store interface {
	ListDevices(ctx context.Context) ([]identity.DeviceRecord, error)
	Snapshot(ctx context.Context) ([]identity.SnapshotRow, error)
}

// ObjectTable is the provisioned object set.
type ObjectTable interface {
	List() []objects.Object
	Lookup(id uint32) (objects.Object, bool)
	Reload(ctx context.Context) error
	Stats() objects.Stats
}

// ObjectWriter applies operator writes through the BACnet write-property path.
type ObjectWriter interface {
	WriteProperty(instance uint32, value any) error
	Describe(instance uint32) (bacnet.ObjectState, bool)
}

// HealthSource reports the bridge's health. Satisfied by *lorawan.HealthReporter.
type HealthSource interface {
	Snapshot() lorawan.HealthMessage
}

// CounterSource reports pipeline counters. Satisfied by *lorawan.Bridge.
type CounterSource interface {
	Metrics() lorawan.Metrics
}

// HistoryReader reads stored datapoint values. Satisfied by *influxdb.Client.
type HistoryReader interface {
	History(ctx context.Context, eui, datapoint string, since time.Time, limit int) ([]influxdb.Sample, error)
}

// ConnectionChecker reports a connection state.
type ConnectionChecker interface {
	IsConnected() bool
}

// DBStatser exposes connection pool statistics. Satisfied by *sql.DB.
type DBStatser interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Store   Store
	Table   ObjectTable
	Device  ObjectWriter
	Version string

	// Optional collaborators.
	Health      HealthSource
	Counters    CounterSource
	History     HistoryReader
	MQTT        ConnectionChecker
	DB          DBStatser
	ExternalHub *Hub // If set, the server uses this hub instead of creating its own
}

// Server is the admin HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	store    Store
	table    ObjectTable
	device   ObjectWriter
	health   HealthSource
	counters CounterSource
	history  HistoryReader
	mqtt     ConnectionChecker
	db       DBStatser
	version  string

	startTime time.Time
	server    *http.Server
	listener  net.Listener
	hub       *Hub
	tickets   *ticketStore
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, store, table, device) and optional ones
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("identity store is required")
	case deps.Table == nil:
		return nil, fmt.Errorf("object table is required")
	case deps.Device == nil:
		return nil, fmt.Errorf("object writer is required")
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		store:     deps.Store,
		table:     deps.Table,
		device:    deps.Device,
		health:    deps.Health,
		counters:  deps.Counters,
		history:   deps.History,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       deps.ExternalHub,
		tickets:   newTicketStore(),
	}
	return s, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub unless one was injected,
// binds the listener and serves in a background goroutine. The server can
// be stopped with Close().
//
// Parameters:
//   - ctx: Context for background goroutines (not the listener lifetime)
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.cfg.WebSocket, s.logger)
		go s.hub.Run(srvCtx)
	}

	go s.cleanTicketsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("binding API listener: %w", err)
	}
	s.listener = ln

	s.logger.Info("API server starting", "address", ln.Addr().String(), "auth", s.authEnabled())
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

// Hub returns the WebSocket hub. Nil before Start unless one was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
