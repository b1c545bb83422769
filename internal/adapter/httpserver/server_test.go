package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/audiorelay/internal/domain"
	"github.com/pscheid92/audiorelay/internal/platform/config"
	"github.com/pscheid92/audiorelay/internal/relay"
	"github.com/stretchr/testify/require"
)

const (
	testUsername = "operator"
	testPassword = "correct horse battery"
)

type stubChannels struct {
	infos []relay.ChannelInfo
}

func (s *stubChannels) Snapshot() []relay.ChannelInfo {
	return s.infos
}

type stubDirectory struct {
	entries []domain.ChannelEntry
	err     error
}

func (s *stubDirectory) List(context.Context) ([]domain.ChannelEntry, error) {
	return s.entries, s.err
}

// recordingSessions stands in for the WebSocket handler and records which role was served.
type recordingSessions struct {
	mu    sync.Mutex
	roles []string
}

func (r *recordingSessions) Transmitter(w http.ResponseWriter, _ *http.Request) {
	r.record("transmitter")
	w.WriteHeader(http.StatusNoContent)
}

func (r *recordingSessions) Client(w http.ResponseWriter, _ *http.Request) {
	r.record("client")
	w.WriteHeader(http.StatusNoContent)
}

func (r *recordingSessions) record(role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles = append(r.roles, role)
}

func (r *recordingSessions) served() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.roles...)
}

type testServerOption func(*config.Config, *Deps)

func withHealthChecks(checks ...HealthCheck) testServerOption {
	return func(_ *config.Config, d *Deps) { d.HealthChecks = checks }
}

func withChannels(infos ...relay.ChannelInfo) testServerOption {
	return func(_ *config.Config, d *Deps) { d.Channels = &stubChannels{infos: infos} }
}

func withDirectory(dir DirectoryLister) testServerOption {
	return func(_ *config.Config, d *Deps) { d.Directory = dir }
}

func withSessions(sessions SessionHandler) testServerOption {
	return func(_ *config.Config, d *Deps) { d.Sessions = sessions }
}

func withClock(clock clockwork.Clock) testServerOption {
	return func(_ *config.Config, d *Deps) { d.Clock = clock }
}

func withConfig(mutate func(*config.Config)) testServerOption {
	return func(cfg *config.Config, _ *Deps) { mutate(cfg) }
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:               "test",
		Port:                 "0",
		SessionSecret:        "test-session-secret-0123456789",
		SessionMaxAge:        time.Hour,
		TransmitterUsername:  testUsername,
		TransmitterPassword:  testPassword,
		LoginRatePerSecond:   100,
		LoginBurst:           100,
		MaxConnections:       100,
		MaxConnectionsPerIP:  100,
		ConnectRatePerSecond: 100,
		ConnectBurst:         100,
	}
}

func newTestServer(t *testing.T, opts ...testServerOption) *Server {
	t.Helper()
	cfg := testConfig()
	deps := Deps{
		Channels: &stubChannels{},
		Sessions: &recordingSessions{},
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}
	return NewServer(cfg, deps)
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func loginRequest(username, password string) *http.Request {
	form := url.Values{"username": {username}, "password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// login performs a successful login and returns the session cookie.
func login(t *testing.T, srv *Server) *http.Cookie {
	t.Helper()
	rec := serve(srv, loginRequest(testUsername, testPassword))
	require.Equal(t, http.StatusFound, rec.Code)

	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == sessionName && cookie.MaxAge >= 0 {
			return cookie
		}
	}
	t.Fatal("login did not set a session cookie")
	return nil
}
