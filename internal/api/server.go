package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-rules/internal/actuator"
	"github.com/nerrad567/gray-logic-rules/internal/audit"
	"github.com/nerrad567/gray-logic-rules/internal/automation"
	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-rules/internal/scheduler"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// CycleRunner runs an evaluation cycle on demand. *scheduler.Scheduler
// satisfies it.
type CycleRunner interface {
	RunNow(ctx context.Context) scheduler.Cycle
}

// StateSource builds an evaluation context. *homestate.Store satisfies it.
type StateSource interface {
	Snapshot(now time.Time) *automation.EvalContext
}

// HealthChecker is implemented by infrastructure components reported on
// the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ActuatorStats reports command delivery counters. *actuator.MQTTActuator
// satisfies it.
type ActuatorStats interface {
	Stats() actuator.Stats
	NotifyBudget() int
}

// Deps holds the dependencies required by the API server.
// Health maps component names ("mqtt", "database") to their checks.
// Audit is optional; without it changes are not recorded.
type Deps struct {
	Config    config.APIConfig
	Logger    *logging.Logger
	Registry  *automation.Registry
	Scheduler CycleRunner
	State     StateSource
	Actuator  ActuatorStats
	Audit     audit.Repository
	Health    map[string]HealthChecker
	Version   string
}

// Server is the HTTP API server for the rule engine.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	registry  *automation.Registry
	scheduler CycleRunner
	state     StateSource
	actuator  ActuatorStats
	auditRepo audit.Repository
	auditCh   chan *audit.Entry
	health    map[string]HealthChecker
	version   string
	startTime time.Time
	now       func() time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called. The WebSocket hub is
// created here so that event sources can be wired to Hub() before Start.
//
// Parameters:
//   - deps: Collaborators; Registry and Logger are required
//
// Returns:
//   - *Server: Configured server, not yet listening
//   - error: If a required dependency is missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("automation registry is required")
	}

	var auditCh chan *audit.Entry
	if deps.Audit != nil {
		auditCh = make(chan *audit.Entry, auditChanSize)
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		registry:  deps.Registry,
		scheduler: deps.Scheduler,
		state:     deps.State,
		actuator:  deps.Actuator,
		auditRepo: deps.Audit,
		auditCh:   auditCh,
		health:    deps.Health,
		version:   deps.Version,
		startTime: time.Now(),
		now:       time.Now,
		hub:       NewHub(deps.Config.WebSocket, deps.Logger),
	}, nil
}

// Hub returns the WebSocket hub used for event broadcast.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and the audit writer, and launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)
	if s.auditRepo != nil {
		go s.drainAuditLog(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
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

// snapshot builds the evaluation context for API-initiated work.
func (s *Server) snapshot() *automation.EvalContext {
	now := s.now()
	if s.state == nil {
		return &automation.EvalContext{Now: now}
	}
	return s.state.Snapshot(now)
}
