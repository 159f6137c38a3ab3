package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/droidpanel-core/internal/auth"
	"github.com/nerrad567/droidpanel-core/internal/events"
	"github.com/nerrad567/droidpanel-core/internal/history"
	"github.com/nerrad567/droidpanel-core/internal/infrastructure/config"
	"github.com/nerrad567/droidpanel-core/internal/infrastructure/database"
	"github.com/nerrad567/droidpanel-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/droidpanel-core/internal/infrastructure/logging"
	"github.com/nerrad567/droidpanel-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/droidpanel-core/internal/logcat"
	"github.com/nerrad567/droidpanel-core/internal/runs"
	"github.com/nerrad567/droidpanel-core/internal/services"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Auth     *auth.Authenticator

	Logcat   *logcat.Service
	Runs     *runs.Service
	Services *services.Service

	// Bus feeds the WebSocket hub. Optional.
	Bus *events.Bus

	// Optional infrastructure, used for history queries and metrics.
	History history.Repository
	DB      *database.DB
	MQTT    *mqtt.Client
	Influx  *influxdb.Client

	Version string
}

// Server is the HTTP API server for droidpanel.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	auth      *auth.Authenticator
	logcat    *logcat.Service
	runs      *runs.Service
	services  *services.Service
	bus       *events.Bus
	history   history.Repository
	db        *database.DB
	mqtt      *mqtt.Client
	influx    *influxdb.Client
	version   string
	startTime time.Time
	limiter   *rate.Limiter
	tickets   *ticketStore

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if deps.Logcat == nil || deps.Runs == nil || deps.Services == nil {
		return nil, fmt.Errorf("logcat, runs and services are required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		auth:      deps.Auth,
		logcat:    deps.Logcat,
		runs:      deps.Runs,
		services:  deps.Services,
		bus:       deps.Bus,
		history:   deps.History,
		db:        deps.DB,
		mqtt:      deps.MQTT,
		influx:    deps.Influx,
		version:   deps.Version,
		startTime: time.Now(),
		tickets:   newTicketStore(),
		hub:       NewHub(deps.WS, deps.Logger),
	}

	if rl := deps.Security.RateLimit; rl.Enabled && rl.RequestsPerMinute > 0 {
		perSecond := rate.Limit(float64(rl.RequestsPerMinute) / 60)
		s.limiter = rate.NewLimiter(perSecond, max(rl.RequestsPerMinute/10, 1))
	}

	return s, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays bus events to it, and launches the
// HTTP listener in a background goroutine. The server can be stopped with
// Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.hub.Run(srvCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.tickets.cleanLoop(srvCtx)
	}()

	if s.bus != nil {
		sub := s.bus.Subscribe(wsRelayQueueSize, nil)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.hub.Relay(srvCtx, sub)
		}()
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
	err := s.server.Shutdown(ctx)
	s.wg.Wait()
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
