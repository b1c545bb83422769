package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pscheid92/audiorelay/internal/domain"
)

// TransmitterState is the lifecycle state of a transmitter session.
type TransmitterState int

const (
	AwaitingName TransmitterState = iota
	Active
	Terminated
)

func (s TransmitterState) String() string {
	switch s {
	case AwaitingName:
		return "awaiting_name"
	case Active:
		return "active"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

type transmitterSession struct {
	svc    *Service
	peer   domain.Peer
	reader MessageReader

	state   TransmitterState
	channel string

	cancel context.CancelFunc
	tasks  sync.WaitGroup
}

func newTransmitterSession(svc *Service, peer domain.Peer, reader MessageReader) *transmitterSession {
	return &transmitterSession{svc: svc, peer: peer, reader: reader, state: AwaitingName}
}

func (t *transmitterSession) run(ctx context.Context) error {
	name, err := t.awaitName(ctx)
	if err != nil {
		t.state = Terminated
		if IsConnectionLost(err) {
			slog.DebugContext(ctx, "Transmitter left before naming a channel", "error", err)
			return nil
		}
		return err
	}

	if err := t.svc.registry.Create(name, t.peer); err != nil {
		t.state = Terminated
		if errors.Is(err, domain.ErrChannelAlreadyExists) {
			slog.InfoContext(ctx, "Rejected duplicate channel", "channel", name, "peer", t.peer.ID())
			_ = t.peer.Send(domain.TextMessage(domain.ReplyChannelExists))
			_ = t.peer.Close(domain.ReplyChannelExists)
			return nil
		}
		return fmt.Errorf("create channel %q: %w", name, err)
	}

	t.channel = name
	t.state = Active

	taskCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	defer t.terminate(ctx)

	if err := t.peer.Send(domain.TextMessage(domain.ReplyChannelCreated)); err != nil {
		slog.DebugContext(ctx, "Transmitter gone before acknowledgement", "channel", name, "error", err)
		return nil
	}

	t.tasks.Add(1)
	go func() {
		defer t.tasks.Done()
		t.svc.reporter.Run(taskCtx, name, t.peer)
	}()

	return t.forward(ctx, taskCtx)
}

// awaitName reads the first message, which must be the channel name as text.
func (t *transmitterSession) awaitName(ctx context.Context) (string, error) {
	msg, err := t.reader.ReadMessage(ctx)
	if err != nil {
		return "", err
	}

	if msg.Kind != domain.KindText {
		_ = t.peer.Send(domain.TextMessage(domain.ReplyChannelNameRequired))
		_ = t.peer.Close(domain.ReplyChannelNameRequired)
		return "", ErrChannelNameRequired
	}

	return strings.TrimSpace(string(msg.Data)), nil
}

// forward relays binary frames until the connection ends. The collector is armed
// by the first non-empty frame, so its wait budget starts with the first byte of
// the stream. A collector that gives up without a segment is re-armed by the next
// non-empty frame, which keeps the capture buffer from outliving its window.
func (t *transmitterSession) forward(ctx, taskCtx context.Context) error {
	var capturing atomic.Bool

	for {
		msg, err := t.reader.ReadMessage(ctx)
		if err != nil {
			if IsConnectionLost(err) {
				slog.DebugContext(ctx, "Transmitter disconnected", "channel", t.channel, "error", err)
				return nil
			}
			return fmt.Errorf("read transmitter frame: %w", err)
		}

		if msg.Kind != domain.KindBinary {
			slog.DebugContext(ctx, "Ignoring text message from active transmitter", "channel", t.channel, "bytes", len(msg.Data))
			continue
		}

		if len(msg.Data) > 0 && capturing.CompareAndSwap(false, true) {
			collector := t.svc.newCollector()
			t.tasks.Add(1)
			go func() {
				defer t.tasks.Done()
				if !collector.Run(taskCtx, t.channel) {
					capturing.Store(false)
				}
			}()
		}

		result, err := t.svc.registry.Broadcast(t.channel, msg.Data)
		if err != nil {
			return fmt.Errorf("broadcast on %q: %w", t.channel, err)
		}
		if len(result.Evicted) > 0 {
			slog.DebugContext(ctx, "Broadcast evicted members", "channel", t.channel, "evicted", len(result.Evicted), "delivered", result.Delivered)
		}
	}
}

// terminate cancels the background tasks first, then removes the channel so that
// no task can observe a half-destroyed channel.
func (t *transmitterSession) terminate(ctx context.Context) {
	t.cancel()
	t.tasks.Wait()

	detached := t.svc.registry.Destroy(t.channel)
	t.withdraw(ctx)
	t.state = Terminated

	slog.InfoContext(ctx, "Transmitter session ended", "channel", t.channel, "detached_members", detached)
}

func (t *transmitterSession) withdraw(ctx context.Context) {
	if t.svc.directory == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), directoryTimeout)
	defer cancel()

	if err := t.svc.directory.Withdraw(ctx, t.channel); err != nil {
		slog.WarnContext(ctx, "Channel directory withdraw failed", "channel", t.channel, "error", err)
	}
}
