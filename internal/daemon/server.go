package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/g960059/osrelay/internal/api"
	"github.com/g960059/osrelay/internal/config"
	"github.com/g960059/osrelay/internal/metrics"
	"github.com/g960059/osrelay/internal/model"
	"github.com/g960059/osrelay/internal/presence"
	"github.com/g960059/osrelay/internal/relay"
)

// Store is the durable lookup surface the daemon needs.
type Store interface {
	ResolveInstanceByID(ctx context.Context, instanceID string) (model.Instance, error)
	ResolveTeamMembership(ctx context.Context, teamID, userID string) (model.Role, error)
	DeleteMembership(ctx context.Context, teamID, userID string) error
	ListTeamInstanceIDs(ctx context.Context, teamID string) ([]string, error)
	Ping(ctx context.Context) error
}

// InstanceResolver maps an instance API key to its instance.
type InstanceResolver interface {
	ResolveInstanceByAPIKey(ctx context.Context, apiKey string) (model.Instance, error)
}

// TokenDecoder maps a browser bearer token to a user id.
type TokenDecoder interface {
	DecodeToken(token string) (string, error)
}

type Deps struct {
	Store     Store
	Instances InstanceResolver
	Identity  TokenDecoder
	Engine    *relay.Engine
	Presence  *presence.Tracker
	// Pending reports unwritten durable state for the health endpoint.
	Pending  func() int
	Metrics  *metrics.Relay
	Gatherer prometheus.Gatherer
	Logger   log.Logger
}

type Server struct {
	cfg       config.Config
	echo      *echo.Echo
	httpSrv   *http.Server
	upgrader  websocket.Upgrader
	store     Store
	instances InstanceResolver
	identity  TokenDecoder
	engine    *relay.Engine
	presence  *presence.Tracker
	pending   func() int
	metrics   *metrics.Relay
	logger    log.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[*wsConn]struct{}
	closing  bool
	sessions sync.WaitGroup
	shutdown sync.Once
	shutErr  error
}

func NewServer(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if deps.Instances == nil {
		if resolver, ok := deps.Store.(InstanceResolver); ok {
			deps.Instances = resolver
		}
	}
	if deps.Presence == nil {
		deps.Presence = presence.NewTracker(nil, cfg.PresenceTTL)
	}
	s := &Server{
		cfg:       cfg,
		store:     deps.Store,
		instances: deps.Instances,
		identity:  deps.Identity,
		engine:    deps.Engine,
		presence:  deps.Presence,
		pending:   deps.Pending,
		metrics:   deps.Metrics,
		logger:    log.With(logger, "component", "daemon"),
		conns:     map[*wsConn]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Both channels authenticate after the upgrade.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = newHTTPErrorHandler(s.logger).Handle
	s.echo = e

	e.GET("/ws/instance", s.instanceSocket)
	e.GET("/ws/instance/:apiKey", s.instanceSocket)
	e.GET("/ws/dashboard/:instanceID", s.browserSocket)

	v1 := e.Group("/v1")
	v1.GET("/health", s.health)
	viewers := v1.Group("/teams/:teamID/instances/:instanceID", s.requireUser)
	viewers.POST("/viewers/heartbeat", s.viewerHeartbeat)
	viewers.GET("/viewers", s.viewerCount)
	if cfg.AdminToken != "" {
		v1.POST("/admin/evictions", s.evict, s.requireAdmin)
	}
	if deps.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	s.httpSrv = &http.Server{
		Handler:           e,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	level.Info(s.logger).Log("msg", "relay listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	}
}

// Addr returns the bound listener address once Start has listened.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting requests and closes every live socket with
// "going away".
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(func() {
		var errs []error
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		s.mu.Lock()
		s.closing = true
		conns := make([]*wsConn, 0, len(s.conns))
		for conn := range s.conns {
			conns = append(conns, conn)
		}
		s.listener = nil
		s.mu.Unlock()
		for _, conn := range conns {
			_ = conn.Close(websocket.CloseGoingAway, "server shutting down")
		}
		if err := s.waitSessions(ctx); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			s.shutErr = fmt.Errorf("shutdown errors: %v", errs)
		}
	})
	return s.shutErr
}

// track registers a live session. It returns false once shutdown has
// begun, in which case the caller must close conn without serving it.
func (s *Server) track(conn *wsConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	s.sessions.Add(1)
	return true
}

func (s *Server) untrack(conn *wsConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[conn]; !ok {
		return
	}
	delete(s.conns, conn)
	s.sessions.Done()
}

func (s *Server) waitSessions(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for sessions: %w", ctx.Err())
	}
}

func (s *Server) health(c echo.Context) error {
	status := "ok"
	if s.store != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			level.Warn(s.logger).Log("msg", "health store ping failed", "err", err)
			status = "degraded"
		}
	}
	resp := api.HealthResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Status:        status,
	}
	if s.engine != nil {
		resp.Instances = s.engine.Registry().InstanceCount()
		resp.Subscribers = s.engine.Registry().BrowserCount()
	}
	if s.pending != nil {
		resp.PendingWrites = s.pending()
	}
	return c.JSON(http.StatusOK, resp)
}
