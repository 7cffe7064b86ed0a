// Package api provides the HTTP REST API and WebSocket server for Gray Logic Zones.
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
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-zones/internal/audit"
	"github.com/nerrad567/gray-logic-zones/internal/enforcer"
	"github.com/nerrad567/gray-logic-zones/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-zones/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-zones/internal/statestore"
	"github.com/nerrad567/gray-logic-zones/internal/zone"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HistoryReader returns recorded state writes. statestore.Store implements it.
type HistoryReader interface {
	History(ctx context.Context, entityID string, limit int) ([]statestore.HistoryEntry, error)
}

// HealthChecker is implemented by the database and MQTT clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ReloadFunc re-reads the controller file and applies it.
type ReloadFunc func(ctx context.Context) error

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Zones     *zone.Registry
	Enforcers *enforcer.Manager // optional
	History   HistoryReader     // optional
	Reload    ReloadFunc        // optional
	Audit     audit.Repository  // optional

	// HealthChecks are reported by GET /health, keyed by component name.
	HealthChecks map[string]HealthChecker

	// DB, if set, adds connection pool statistics to GET /system.
	DB *sql.DB

	Version string
}

// Server is the HTTP API server for Gray Logic Zones.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	zones     *zone.Registry
	enforcers *enforcer.Manager
	history   HistoryReader
	reload    ReloadFunc
	audit     audit.Repository
	checks    map[string]HealthChecker
	db        *sql.DB
	version   string
	startTime time.Time

	hub     *Hub
	tickets *ticketStore
	limiter *clientLimiter

	server *http.Server
	cancel context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, zone registry)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Zones == nil {
		return nil, fmt.Errorf("zone registry is required")
	}
	if len(deps.Security.JWT.Secret) == 0 {
		return nil, fmt.Errorf("jwt secret is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		zones:     deps.Zones,
		enforcers: deps.Enforcers,
		history:   deps.History,
		reload:    deps.Reload,
		audit:     deps.Audit,
		checks:    deps.HealthChecks,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.Logger),
		tickets:   newTicketStore(),
	}
	if deps.Security.RateLimit.Enabled {
		s.limiter = newClientLimiter(deps.Security.RateLimit.RequestsPerMinute)
	}

	s.zones.AddObserver(s.hub.BroadcastTransition)
	s.hub.setSnapshot(ChannelZoneState, s.zoneSnapshot)
	if s.enforcers != nil {
		s.enforcers.AddObserver(s.hub.BroadcastEnforcerStatus)
		s.hub.setSnapshot(ChannelEnforcerStatus, s.enforcerSnapshot)
	}

	return s, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and the ticket and rate limiter cleanup loops,
// then launches the HTTP listener in a background goroutine. The server can
// be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanupLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// cleanupLoop expires WebSocket tickets and idle rate limiter entries.
func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tickets.expire(now)
			if s.limiter != nil {
				s.limiter.expire(now)
			}
		}
	}
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

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
