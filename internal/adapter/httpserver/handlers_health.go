package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/audiorelay/internal/platform/version"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck is a named dependency check run by the startup and readiness endpoints.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// relayStatus is the body of the startup and readiness endpoints. Channels and
// Listeners describe this instance's registry at the time of the request.
type relayStatus struct {
	Status      string `json:"status"`
	Channels    int    `json:"channels"`
	Listeners   int    `json:"listeners"`
	FailedCheck string `json:"failed_check,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleStartup(c echo.Context) error {
	return s.checkRelay(startupProbeTimeout)(c)
}

func (s *Server) handleReadiness(c echo.Context) error {
	return s.checkRelay(readinessProbeTimeout)(c)
}

// checkRelay runs the health checks in order under timeout and stops at the first
// failure. The registry counts are included either way.
func (s *Server) checkRelay(timeout time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
		defer cancel()

		report := s.registryStatus()
		code := http.StatusOK
		report.Status = "ready"

		for _, hc := range s.healthChecks {
			if err := hc.Check(ctx); err != nil {
				slog.WarnContext(ctx, "Health check failed", "check", hc.Name, "error", err)
				code = http.StatusServiceUnavailable
				report.Status = "unhealthy"
				report.FailedCheck = hc.Name
				report.Error = err.Error()
				break
			}
		}

		if err := c.JSON(code, report); err != nil {
			return fmt.Errorf("failed to write health response: %w", err)
		}
		return nil
	}
}

func (s *Server) registryStatus() relayStatus {
	var report relayStatus
	for _, info := range s.channels.Snapshot() {
		report.Channels++
		report.Listeners += info.Members
	}
	return report
}

func (s *Server) handleLiveness(c echo.Context) error {
	connections, _ := s.admission.counts("")

	response := map[string]any{
		"status":      "ok",
		"uptime":      s.clock.Since(s.startTime).Seconds(),
		"connections": connections,
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
