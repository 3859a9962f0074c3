// Package api provides the HTTP REST API and WebSocket notifier for the
// drone fleet core.
//
// It exposes the registration workflow to drones and operators, the drone
// read API, outbound commands, and system health.
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

	"github.com/nerrad567/dronefleet-core/internal/audit"
	"github.com/nerrad567/dronefleet-core/internal/command"
	"github.com/nerrad567/dronefleet-core/internal/device"
	"github.com/nerrad567/dronefleet-core/internal/infrastructure/config"
	"github.com/nerrad567/dronefleet-core/internal/infrastructure/database"
	"github.com/nerrad567/dronefleet-core/internal/infrastructure/logging"
	"github.com/nerrad567/dronefleet-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/dronefleet-core/internal/registration"
	"github.com/nerrad567/dronefleet-core/internal/selftest"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// RegistrationService is the provisioning workflow as used by the handlers.
type RegistrationService interface {
	Submit(ctx context.Context, sub registration.Submission) (*registration.SubmitResult, error)
	GetStatus(ctx context.Context, requestID string) (*registration.StatusView, error)
	ListRequests(ctx context.Context, status registration.Status, page, size int) (*registration.Page[registration.StatusView], error)
	ProcessAdminAction(ctx context.Context, action registration.AdminAction) (*registration.ActionResult, error)
}

// DroneReader reads provisioned drones.
type DroneReader interface {
	GetByID(ctx context.Context, id string) (*device.Drone, error)
	List(ctx context.Context, filter device.Filter) ([]device.Drone, error)
}

// CommandSender publishes commands to drones.
type CommandSender interface {
	SendCommand(ctx context.Context, droneID string, cmdType command.Type, params map[string]any) (command.Result, error)
	ReturnToLaunch(ctx context.Context, droneID string) (command.Result, error)
	Land(ctx context.Context, droneID string) (command.Result, error)
	Takeoff(ctx context.Context, droneID string, altitude float64) (command.Result, error)
	Goto(ctx context.Context, droneID string, latitude, longitude, altitude float64) (command.Result, error)
}

// BridgeStatus reports the broker connection state.
type BridgeStatus interface {
	State() mqtt.State
	IsConnected() bool
}

// SelfTester runs and reports the dependency self-test.
type SelfTester interface {
	Run(ctx context.Context) (*selftest.Report, error)
	Latest() *selftest.Report
}

// Database is the subset of the SQLite handle used for health and metrics.
type Database interface {
	HealthCheck(ctx context.Context) error
	MigrationStatus(ctx context.Context) (database.MigrationStatus, error)
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config        config.APIConfig
	WS            config.WebSocketConfig
	Security      config.SecurityConfig
	Logger        *logging.Logger
	Registrations RegistrationService
	Drones        DroneReader
	Commands      CommandSender // optional: command endpoints return 503 without it
	Bridge        BridgeStatus  // optional
	SelfTest      SelfTester    // optional
	DB            Database      // optional
	AuditRepo     audit.Repository
	ExternalHub   *Hub // If set, the server uses this hub instead of creating its own
	Version       string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg           config.APIConfig
	wsCfg         config.WebSocketConfig
	secCfg        config.SecurityConfig
	logger        *logging.Logger
	registrations RegistrationService
	drones        DroneReader
	commands      CommandSender
	bridge        BridgeStatus
	selfTest      SelfTester
	db            Database
	auditRepo     audit.Repository
	auditCh       chan *audit.AuditLog
	version       string
	startTime     time.Time
	server        *http.Server
	hub           *Hub
	externalHub   bool               // true if hub was injected externally
	cancel        context.CancelFunc // cancels background goroutines on Close()
	auditDone     chan struct{}
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registrations == nil {
		return nil, fmt.Errorf("registration service is required")
	}
	if deps.Drones == nil {
		return nil, fmt.Errorf("drone reader is required")
	}

	s := &Server{
		cfg:           deps.Config,
		wsCfg:         deps.WS,
		secCfg:        deps.Security,
		logger:        deps.Logger,
		registrations: deps.Registrations,
		drones:        deps.Drones,
		commands:      deps.Commands,
		bridge:        deps.Bridge,
		selfTest:      deps.SelfTest,
		db:            deps.DB,
		auditRepo:     deps.AuditRepo,
		version:       deps.Version,
		startTime:     time.Now(),
	}

	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Hub returns the server's WebSocket hub, or nil before Start when none was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub and the audit writer,
// and launches the HTTP listener in a background goroutine. The server can
// be stopped with Close().
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	s.startAuditWriter(srvCtx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
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

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// flushes queued audit entries.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)

	// Stop the hub and audit writer after in-flight requests have finished
	// so their audit entries are still drained.
	if s.cancel != nil {
		s.cancel()
	}
	if s.auditDone != nil {
		<-s.auditDone
	}

	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
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
