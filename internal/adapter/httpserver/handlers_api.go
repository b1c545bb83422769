package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/audiorelay/internal/platform/errors"
)

const directoryTimeout = 3 * time.Second

type channelResponse struct {
	Name      string    `json:"name"`
	Members   int       `json:"members"`
	HasInit   bool      `json:"has_init"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) registerAPIRoutes() {
	s.echo.GET("/api/channels", s.handleListChannels)
	if s.directory != nil {
		s.echo.GET("/api/directory", s.handleListDirectory)
	}
}

func (s *Server) handleListChannels(c echo.Context) error {
	snapshot := s.channels.Snapshot()

	channels := make([]channelResponse, 0, len(snapshot))
	for _, info := range snapshot {
		channels = append(channels, channelResponse{
			Name:      info.Name,
			Members:   info.Members,
			HasInit:   info.InitSegment != nil,
			CreatedAt: info.CreatedAt,
		})
	}

	response := map[string]any{
		"status":   "ok",
		"channels": channels,
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write channels response: %w", err)
	}
	return nil
}

func (s *Server) handleListDirectory(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), directoryTimeout)
	defer cancel()

	entries, err := s.directory.List(ctx)
	if err != nil {
		return apperrors.UnavailableError("channel directory unavailable", err)
	}

	response := map[string]any{
		"status":   "ok",
		"channels": entries,
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write directory response: %w", err)
	}
	return nil
}
