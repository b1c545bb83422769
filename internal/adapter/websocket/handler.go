package websocket

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/audiorelay/internal/adapter/metrics"
	"github.com/pscheid92/audiorelay/internal/domain"
	"github.com/pscheid92/audiorelay/internal/platform/correlation"
	"github.com/pscheid92/audiorelay/internal/relay"
)

const (
	RoleTransmitter = "transmitter"
	RoleClient      = "client"
)

// SessionServer runs relay sessions over an established connection.
type SessionServer interface {
	ServeTransmitter(ctx context.Context, peer domain.Peer, reader relay.MessageReader) error
	ServeClient(ctx context.Context, peer domain.Peer, reader relay.MessageReader) error
}

type Options struct {
	QueueSize       int
	MaxMessageBytes int64
	CheckOrigin     func(r *http.Request) bool
}

// Handler upgrades HTTP requests and hands the connection to a relay session.
type Handler struct {
	sessions SessionServer
	upgrader websocket.Upgrader
	clock    clockwork.Clock
	metrics  *metrics.WebSocketMetrics
	opts     Options
}

// NewHandler creates a Handler. wsMetrics may be nil.
func NewHandler(sessions SessionServer, clock clockwork.Clock, wsMetrics *metrics.WebSocketMetrics, opts Options) *Handler {
	return &Handler{
		sessions: sessions,
		upgrader: websocket.Upgrader{CheckOrigin: opts.CheckOrigin},
		clock:    clock,
		metrics:  wsMetrics,
		opts:     opts,
	}
}

// Transmitter serves the producer side of a channel.
func (h *Handler) Transmitter(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, RoleTransmitter, h.sessions.ServeTransmitter)
}

// Client serves a listener.
func (h *Handler) Client(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, RoleClient, h.sessions.ServeClient)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, role string, session func(context.Context, domain.Peer, relay.MessageReader) error) {
	connection, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		if h.metrics != nil {
			h.metrics.UpgradeFailures.Inc()
		}
		slog.WarnContext(r.Context(), "WebSocket upgrade failed", "role", role, "error", err)
		return
	}

	conn := NewConn(connection, h.clock, h.opts.QueueSize, h.opts.MaxMessageBytes, h.metrics)

	ctx := r.Context()
	if _, ok := correlation.ID(ctx); !ok {
		ctx = correlation.WithID(ctx, correlation.NewID())
	}
	ctx = correlation.WithRole(ctx, role)

	if h.metrics != nil {
		h.metrics.ActiveConnections.WithLabelValues(role).Inc()
		defer h.metrics.ActiveConnections.WithLabelValues(role).Dec()
	}

	slog.InfoContext(ctx, "WebSocket connected", "peer", conn.ID(), "remote_addr", r.RemoteAddr)

	if err := session(ctx, conn, conn); err != nil {
		slog.WarnContext(ctx, "Session ended with error", "peer", conn.ID(), "error", err)
	}

	_ = conn.Close("")
	conn.Wait()

	slog.InfoContext(ctx, "WebSocket disconnected", "peer", conn.ID())
}
