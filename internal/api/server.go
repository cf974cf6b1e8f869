package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/webiot/relay/internal/audit"
	"github.com/webiot/relay/internal/auth"
	"github.com/webiot/relay/internal/infrastructure/config"
	"github.com/webiot/relay/internal/infrastructure/logging"
	"github.com/webiot/relay/internal/infrastructure/metrics"
	"github.com/webiot/relay/internal/relay"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// limiterPruneInterval is how often idle per-identity rate limiters are dropped.
const limiterPruneInterval = 5 * time.Minute

// HealthChecker is implemented by dependencies reported on /api/health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Relay    *relay.Relay
	Accounts *auth.Store
	Sessions *auth.Sessions
	Audit    audit.Repository // optional: records activity, enables /api/audit
	Metrics  *metrics.Metrics // optional: enables /metrics and HTTP counters
	Database HealthChecker    // optional: included in /api/health
	Site     http.Handler     // optional: serves the static pages at /
	Version  string
}

// Server is the HTTP API server for the relay.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	relay     *relay.Relay
	accounts  *auth.Store
	sessions  *auth.Sessions
	auditRepo audit.Repository
	auditCh   chan *audit.Entry
	metrics   *metrics.Metrics
	database  HealthChecker
	site      http.Handler
	version   string
	startTime time.Time
	server    *http.Server
	listener  net.Listener
	hub       *Hub
	limiters  *limiterSet
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The WebSocket hub is created here and registered as a relay listener so
// no message is missed between New and Start. The server does not accept
// connections until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Relay == nil {
		return nil, fmt.Errorf("relay is required")
	}
	if deps.Accounts == nil {
		return nil, fmt.Errorf("account store is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session issuer is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		relay:     deps.Relay,
		accounts:  deps.Accounts,
		sessions:  deps.Sessions,
		auditRepo: deps.Audit,
		auditCh:   make(chan *audit.Entry, auditChanSize),
		metrics:   deps.Metrics,
		database:  deps.Database,
		site:      deps.Site,
		version:   deps.Version,
		startTime: time.Now(),
		limiters:  newLimiterSet(deps.Config.RateLimit),
	}

	s.hub = NewHub(s.wsCfg, s.logger, s.relay.Status)
	if s.metrics != nil {
		s.hub.SetGauge(s.metrics)
	}
	s.relay.AddListener(s.hub)

	return s, nil
}

// Start begins listening for HTTP connections.
//
// The listener is bound before Start returns so address errors surface
// immediately; serving happens in a background goroutine. The server can
// be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.pruneLimitersLoop(srvCtx)
	if s.auditRepo != nil {
		go s.drainAuditLog(srvCtx)
	}

	s.server = &http.Server{
		Addr:              addr,
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

// Addr returns the bound listener address, or "" before Start.
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
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub, limiter pruning, audit writer)
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

// pruneLimitersLoop drops rate limiters for identities that have gone quiet.
func (s *Server) pruneLimitersLoop(ctx context.Context) {
	ticker := time.NewTicker(limiterPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.limiters.prune(now.Add(-limiterPruneInterval)); n > 0 {
				s.logger.Debug("pruned idle rate limiters", "count", n)
			}
		}
	}
}
