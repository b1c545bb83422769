package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/audiorelay/internal/adapter/metrics"
	"github.com/pscheid92/audiorelay/internal/domain"
	"github.com/pscheid92/audiorelay/internal/platform/config"
	"github.com/pscheid92/audiorelay/internal/relay"
)

// ChannelLister provides the live view of the local registry.
type ChannelLister interface {
	Snapshot() []relay.ChannelInfo
}

// DirectoryLister reads the shared channel directory.
type DirectoryLister interface {
	List(ctx context.Context) ([]domain.ChannelEntry, error)
}

// SessionHandler upgrades requests into relay sessions.
type SessionHandler interface {
	Transmitter(w http.ResponseWriter, r *http.Request)
	Client(w http.ResponseWriter, r *http.Request)
}

// Deps collects the collaborators the HTTP surface is built on.
// Directory, the metrics fields and Clock are optional.
type Deps struct {
	Channels         ChannelLister
	Directory        DirectoryLister
	Sessions         SessionHandler
	HealthChecks     []HealthCheck
	HTTPMetrics      *metrics.HTTPMetrics
	WebSocketMetrics *metrics.WebSocketMetrics
	MetricsHandler   http.Handler
	Clock            clockwork.Clock
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	channels       ChannelLister
	directory      DirectoryLister
	sessions       SessionHandler
	httpMetrics    *metrics.HTTPMetrics
	wsMetrics      *metrics.WebSocketMetrics
	metricsHandler http.Handler
	admission      *admission

	sessionStore *sessions.CookieStore
	healthChecks []HealthCheck
	clock        clockwork.Clock
	startTime    time.Time
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	srv := &Server{
		echo:           e,
		config:         cfg,
		channels:       deps.Channels,
		directory:      deps.Directory,
		sessions:       deps.Sessions,
		httpMetrics:    deps.HTTPMetrics,
		wsMetrics:      deps.WebSocketMetrics,
		metricsHandler: deps.MetricsHandler,
		admission:      newAdmission(clock, cfg.MaxConnections, cfg.MaxConnectionsPerIP, cfg.ConnectRatePerSecond, cfg.ConnectBurst),
		sessionStore:   setupSessionStore(cfg),
		healthChecks:   deps.HealthChecks,
		clock:          clock,
		startTime:      clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Session keys
const (
	sessionName           = "audiorelay-session"
	sessionKeyTransmitter = "transmitter"
)

func setupSessionStore(cfg *config.Config) *sessions.CookieStore {
	sessionStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	sessionStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	}
	return sessionStore
}
