package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pscheid92/audiorelay/internal/domain"
)

type clientCommand struct {
	verb string
	arg  string
}

// parseCommand splits a client text message into its verb and argument.
// Only "join" carries an argument.
func parseCommand(text string) clientCommand {
	text = strings.TrimSpace(text)
	switch {
	case text == domain.CmdListChannels:
		return clientCommand{verb: domain.CmdListChannels}
	case text == domain.CmdLeave:
		return clientCommand{verb: domain.CmdLeave}
	case text == domain.CmdJoin:
		return clientCommand{verb: domain.CmdJoin}
	case strings.HasPrefix(text, domain.CmdJoin+" "):
		return clientCommand{verb: domain.CmdJoin, arg: strings.TrimSpace(text[len(domain.CmdJoin)+1:])}
	default:
		return clientCommand{verb: text}
	}
}

type clientSession struct {
	registry *Registry
	peer     domain.Peer
	reader   MessageReader
}

func newClientSession(registry *Registry, peer domain.Peer, reader MessageReader) *clientSession {
	return &clientSession{registry: registry, peer: peer, reader: reader}
}

func (c *clientSession) run(ctx context.Context) error {
	defer func() {
		if name, ok := c.registry.Leave(c.peer); ok {
			slog.DebugContext(ctx, "Client left on disconnect", "channel", name)
		}
	}()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if IsConnectionLost(err) {
				return nil
			}
			return fmt.Errorf("read client message: %w", err)
		}

		if msg.Kind != domain.KindText {
			slog.DebugContext(ctx, "Ignoring binary message from client", "bytes", len(msg.Data))
			continue
		}

		if err := c.handle(ctx, parseCommand(string(msg.Data))); err != nil {
			if IsConnectionLost(err) || errors.Is(err, domain.ErrDeliveryFailed) || errors.Is(err, domain.ErrSendQueueFull) {
				slog.DebugContext(ctx, "Client unreachable", "error", err)
				return nil
			}
			return err
		}
	}
}

func (c *clientSession) handle(ctx context.Context, cmd clientCommand) error {
	switch cmd.verb {
	case domain.CmdListChannels:
		return c.listChannels()
	case domain.CmdJoin:
		return c.join(ctx, cmd.arg)
	case domain.CmdLeave:
		if name, ok := c.registry.Leave(c.peer); ok {
			slog.DebugContext(ctx, "Client left channel", "channel", name)
		}
		return c.reply(domain.ReplyLeft)
	default:
		slog.DebugContext(ctx, "Ignoring unknown client command", "command", cmd.verb)
		return nil
	}
}

func (c *clientSession) listChannels() error {
	payload, err := json.Marshal(c.registry.Channels())
	if err != nil {
		return fmt.Errorf("encode channel list: %w", err)
	}
	return c.peer.Send(domain.Message{Kind: domain.KindText, Data: payload})
}

func (c *clientSession) join(ctx context.Context, name string) error {
	result, err := c.registry.Join(name, c.peer)
	switch {
	case errors.Is(err, domain.ErrChannelNotFound):
		return c.reply(domain.ReplyChannelNotFound)
	case err != nil:
		return err
	}

	slog.DebugContext(ctx, "Client joined channel",
		"channel", result.Channel,
		"previous", result.Previous,
		"init_bytes", len(result.InitSegment))

	return c.reply(domain.ReplyJoined)
}

func (c *clientSession) reply(text string) error {
	if err := c.peer.Send(domain.TextMessage(text)); err != nil {
		return fmt.Errorf("reply %q: %w", text, err)
	}
	return nil
}
