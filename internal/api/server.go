package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/balancer-core/internal/audit"
	"github.com/nerrad567/balancer-core/internal/auth"
	"github.com/nerrad567/balancer-core/internal/catalogue"
	"github.com/nerrad567/balancer-core/internal/downstream"
	"github.com/nerrad567/balancer-core/internal/infrastructure/config"
	"github.com/nerrad567/balancer-core/internal/infrastructure/database"
	"github.com/nerrad567/balancer-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/balancer-core/internal/infrastructure/logging"
	"github.com/nerrad567/balancer-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/balancer-core/internal/notify"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
// DB, MQTT, Influx, Audit and Gatherer are optional.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Auth       *auth.Service
	Tickets    *auth.TicketStore
	Catalogue  *catalogue.Manager
	Downstream *downstream.Client
	Notify     *notify.Service
	Audit      audit.Repository
	DB         *database.DB
	MQTT       *mqtt.Client
	Influx     *influxdb.Client
	Gatherer   prometheus.Gatherer
	Hub        *Hub // If set, the server uses this hub instead of creating its own
	Version    string
}

// Server is the balancer's HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	auth        *auth.Service
	tickets     *auth.TicketStore
	catalogue   *catalogue.Manager
	downstream  *downstream.Client
	notify      *notify.Service
	audit       audit.Repository
	db          *database.DB
	mqtt        *mqtt.Client
	influx      *influxdb.Client
	gatherer    prometheus.Gatherer
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Auth == nil:
		return nil, fmt.Errorf("auth service is required")
	case deps.Catalogue == nil:
		return nil, fmt.Errorf("catalogue manager is required")
	case deps.Downstream == nil:
		return nil, fmt.Errorf("downstream client is required")
	case deps.Notify == nil:
		return nil, fmt.Errorf("notify service is required")
	}

	tickets := deps.Tickets
	if tickets == nil {
		tickets = auth.NewTicketStore()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger.With("component", "api"),
		auth:       deps.Auth,
		tickets:    tickets,
		catalogue:  deps.Catalogue,
		downstream: deps.Downstream,
		notify:     deps.Notify,
		audit:      deps.Audit,
		db:         deps.DB,
		mqtt:       deps.MQTT,
		influx:     deps.Influx,
		gatherer:   gatherer,
		version:    deps.Version,
		startTime:  time.Now(),
	}

	// The notify service broadcasts through the hub, so it is usually
	// created first and injected here.
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}

	return s, nil
}

// Hub returns the server's websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub (unless injected) and ticket cleanup, then
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}
	go s.tickets.Sweep(srvCtx)

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
