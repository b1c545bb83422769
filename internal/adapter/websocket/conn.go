package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/audiorelay/internal/adapter/metrics"
	"github.com/pscheid92/audiorelay/internal/domain"
)

const (
	writeDeadline    = 5 * time.Second
	pingInterval     = 30 * time.Second
	pongDeadline     = 60 * time.Second
	defaultQueueSize = 64
)

// Conn adapts a gorilla connection to domain.Peer. Reads happen on the caller's
// goroutine through ReadMessage; writes are serialized by a dedicated writer goroutine
// fed from a bounded FIFO queue, so Send never blocks.
type Conn struct {
	id         string
	connection *websocket.Conn
	clock      clockwork.Clock
	metrics    *metrics.WebSocketMetrics

	sendChannel chan domain.Message
	doneChannel chan struct{}

	mu          sync.Mutex
	closed      bool
	closeReason string

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewConn starts the writer goroutine for connection. wsMetrics may be nil.
func NewConn(connection *websocket.Conn, clock clockwork.Clock, queueSize int, maxMessageBytes int64, wsMetrics *metrics.WebSocketMetrics) *Conn {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	c := &Conn{
		id:          uuid.NewString(),
		connection:  connection,
		clock:       clock,
		metrics:     wsMetrics,
		sendChannel: make(chan domain.Message, queueSize),
		doneChannel: make(chan struct{}),
	}
	if maxMessageBytes > 0 {
		connection.SetReadLimit(maxMessageBytes)
	}
	c.configurePongHandler()
	c.wg.Add(1)
	go c.run()
	return c
}

func (c *Conn) ID() string { return c.id }

// Send queues msg for the writer goroutine.
func (c *Conn) Send(msg domain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return domain.ErrPeerClosed
	}

	select {
	case c.sendChannel <- msg:
		return nil
	default:
		return fmt.Errorf("%w (capacity %d)", domain.ErrSendQueueFull, cap(c.sendChannel))
	}
}

// Close stops accepting messages and asks the writer to flush the queue, send a
// close frame carrying reason, and drop the connection. It does not wait.
func (c *Conn) Close(reason string) error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeReason = reason
		c.mu.Unlock()
		close(c.doneChannel)
	})
	return nil
}

// Wait blocks until the writer goroutine has exited.
func (c *Conn) Wait() {
	c.wg.Wait()
}

// ReadMessage blocks for the next data message. Control frames are handled by
// gorilla's handlers. Any read error means the connection is gone and wraps
// domain.ErrPeerClosed.
func (c *Conn) ReadMessage(ctx context.Context) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}

	for {
		messageType, data, err := c.connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				slog.DebugContext(ctx, "WebSocket closed unexpectedly", "peer", c.id, "error", err)
			}
			return domain.Message{}, fmt.Errorf("%w: %w", domain.ErrPeerClosed, err)
		}
		c.updateReadDeadline()

		switch messageType {
		case websocket.TextMessage:
			return domain.Message{Kind: domain.KindText, Data: data}, nil
		case websocket.BinaryMessage:
			return domain.Message{Kind: domain.KindBinary, Data: data}, nil
		}
	}
}

func (c *Conn) run() {
	ticker := c.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.wg.Done()
	defer func() { _ = c.connection.Close() }()

	for {
		select {
		case msg := <-c.sendChannel:
			if err := c.write(msg); err != nil {
				c.fail(err)
				return
			}
		case <-ticker.Chan():
			c.updateWriteDeadline()
			if err := c.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				if c.metrics != nil {
					c.metrics.PingFailures.Inc()
				}
				c.fail(err)
				return
			}
		case <-c.doneChannel:
			c.flush()
			return
		}
	}
}

// flush writes whatever was queued before Close, then the close frame.
func (c *Conn) flush() {
	for {
		select {
		case msg := <-c.sendChannel:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			c.mu.Lock()
			reason := c.closeReason
			c.mu.Unlock()

			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, truncateReason(reason))
			c.updateWriteDeadline()
			_ = c.connection.WriteMessage(websocket.CloseMessage, closeMsg)
			return
		}
	}
}

func (c *Conn) write(msg domain.Message) error {
	messageType := websocket.BinaryMessage
	if msg.Kind == domain.KindText {
		messageType = websocket.TextMessage
	}
	c.updateWriteDeadline()
	return c.connection.WriteMessage(messageType, msg.Data)
}

// fail marks the connection dead after a write error so later Sends fail fast
// and the owning session's read loop unblocks.
func (c *Conn) fail(err error) {
	if !errors.Is(err, websocket.ErrCloseSent) {
		slog.Debug("WebSocket write failed", "peer", c.id, "error", err)
	}
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.doneChannel)
	})
}

func (c *Conn) configurePongHandler() {
	c.updateReadDeadline()
	c.connection.SetPongHandler(func(string) error {
		c.updateReadDeadline()
		return nil
	})
}

func (c *Conn) updateWriteDeadline() {
	_ = c.connection.SetWriteDeadline(c.clock.Now().Add(writeDeadline))
}

func (c *Conn) updateReadDeadline() {
	_ = c.connection.SetReadDeadline(c.clock.Now().Add(pongDeadline))
}

// Close frame payloads are limited to 125 bytes, two of which hold the status code.
func truncateReason(reason string) string {
	const maxReason = 123
	if len(reason) > maxReason {
		return reason[:maxReason]
	}
	return reason
}
