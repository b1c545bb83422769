package httpserver

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/audiorelay/internal/platform/errors"
)

const (
	transmitterPage = "transmitter.html"
	loginPage       = "login.html"
)

func (s *Server) registerAuthRoutes(rateLimiter echo.MiddlewareFunc) {
	s.echo.GET("/login", s.handleLoginPage)
	s.echo.POST("/login", s.handleLogin, rateLimiter)
	s.echo.POST("/logout", s.handleLogout)
	s.echo.GET("/transmitter", s.handleTransmitterPage, s.requireTransmitterPage)
}

// requireTransmitterPage sends browsers without a transmitter session to the login page.
func (s *Server) requireTransmitterPage(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.isAuthenticated(c) {
			if err := c.Redirect(http.StatusFound, "/login"); err != nil {
				return fmt.Errorf("failed to redirect: %w", err)
			}
			return nil
		}
		return next(c)
	}
}

// requireTransmitter rejects socket requests without a logged-in transmitter session.
// It runs before the WebSocket upgrade, so a rejected client gets a plain 401.
func (s *Server) requireTransmitter(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.isAuthenticated(c) {
			return apperrors.UnauthorizedError("login required")
		}
		return next(c)
	}
}

func (s *Server) isAuthenticated(c echo.Context) bool {
	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		return false
	}
	username, ok := session.Values[sessionKeyTransmitter].(string)
	return ok && username == s.config.TransmitterUsername
}

func (s *Server) credentialsMatch(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.config.TransmitterUsername))
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.config.TransmitterPassword))
	return userOK&passOK == 1
}

func (s *Server) handleLogin(c echo.Context) error {
	ctx := c.Request().Context()
	username := c.FormValue("username")

	if !s.credentialsMatch(username, c.FormValue("password")) {
		slog.WarnContext(ctx, "Transmitter login rejected", "username", username, "remote_addr", c.RealIP())
		return apperrors.UnauthorizedError("invalid credentials")
	}

	// An unreadable cookie (rotated secret, tampering) still yields a fresh session.
	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		slog.DebugContext(ctx, "Discarding unreadable session cookie", "error", err)
	}

	session.Values[sessionKeyTransmitter] = username
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to save session", err)
	}

	slog.InfoContext(ctx, "Transmitter logged in", "username", username)

	if err := c.Redirect(http.StatusFound, "/transmitter"); err != nil {
		return fmt.Errorf("failed to redirect: %w", err)
	}
	return nil
}

// clearSession expires the session cookie. An unreadable cookie is replaced rather than reported.
func (s *Server) clearSession(c echo.Context) error {
	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		session, err = s.sessionStore.New(c.Request(), sessionName)
		if err != nil {
			slog.DebugContext(c.Request().Context(), "Discarding unreadable session cookie", "error", err)
		}
	}
	session.Options.MaxAge = -1

	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to save logout session", err)
	}
	return nil
}

// handleLoginPage starts every visit to the login form from a logged-out state.
func (s *Server) handleLoginPage(c echo.Context) error {
	if err := s.clearSession(c); err != nil {
		return err
	}

	if s.config.StaticDir != "" {
		return c.File(filepath.Join(s.config.StaticDir, loginPage))
	}
	if err := c.JSON(http.StatusOK, map[string]string{"status": "login required"}); err != nil {
		return fmt.Errorf("failed to write login response: %w", err)
	}
	return nil
}

func (s *Server) handleLogout(c echo.Context) error {
	if err := s.clearSession(c); err != nil {
		return err
	}

	slog.InfoContext(c.Request().Context(), "Transmitter logged out")

	if err := c.Redirect(http.StatusFound, "/"); err != nil {
		return fmt.Errorf("failed to redirect: %w", err)
	}
	return nil
}

func (s *Server) handleTransmitterPage(c echo.Context) error {
	if s.config.StaticDir != "" {
		return c.File(filepath.Join(s.config.StaticDir, transmitterPage))
	}

	response := map[string]any{
		"status":   "ok",
		"username": s.config.TransmitterUsername,
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write transmitter response: %w", err)
	}
	return nil
}
