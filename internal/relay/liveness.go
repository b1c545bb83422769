package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/audiorelay/internal/domain"
)

const (
	defaultLivenessInterval = 2 * time.Second
	directoryTimeout        = 2 * time.Second
)

type memberCounter interface {
	Lookup(name string) (ChannelInfo, bool)
}

// LivenessReporter tells a transmitter how many clients are listening, and keeps
// the channel directory entry fresh with the same numbers.
type LivenessReporter struct {
	registry  memberCounter
	directory domain.ChannelDirectory
	clock     clockwork.Clock
	interval  time.Duration
	instance  string
}

// NewLivenessReporter creates a reporter. directory may be nil.
func NewLivenessReporter(registry memberCounter, directory domain.ChannelDirectory, clock clockwork.Clock, interval time.Duration, instance string) *LivenessReporter {
	if interval <= 0 {
		interval = defaultLivenessInterval
	}
	return &LivenessReporter{
		registry:  registry,
		directory: directory,
		clock:     clock,
		interval:  interval,
		instance:  instance,
	}
}

// Run reports immediately and then once per interval. It returns when ctx is
// cancelled, the channel no longer exists, or the transmitter cannot be reached.
func (l *LivenessReporter) Run(ctx context.Context, name string, transmitter domain.Peer) {
	ticker := l.clock.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		if !l.report(ctx, name, transmitter) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

func (l *LivenessReporter) report(ctx context.Context, name string, transmitter domain.Peer) bool {
	if ctx.Err() != nil {
		return false
	}

	info, found := l.registry.Lookup(name)
	if !found {
		return false
	}

	data, err := json.Marshal(domain.LivenessReport{Type: domain.LivenessReportType, Count: info.Members})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal liveness report", "error", err)
		return false
	}

	if err := transmitter.Send(domain.Message{Kind: domain.KindText, Data: data}); err != nil {
		slog.DebugContext(ctx, "Liveness report undeliverable, stopping reporter", "channel", name, "error", err)
		return false
	}

	l.announce(ctx, info)
	return true
}

func (l *LivenessReporter) announce(ctx context.Context, info ChannelInfo) {
	if l.directory == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, directoryTimeout)
	defer cancel()

	entry := domain.ChannelEntry{
		Name:      info.Name,
		Members:   info.Members,
		HasInit:   info.InitSegment != nil,
		Instance:  l.instance,
		UpdatedAt: l.clock.Now(),
	}
	if err := l.directory.Announce(ctx, entry); err != nil {
		slog.WarnContext(ctx, "Channel directory announce failed", "channel", info.Name, "error", err)
	}
}
