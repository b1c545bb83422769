package relay

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/audiorelay/internal/domain"
)

// MessageReader yields messages received from one connection in arrival order.
type MessageReader interface {
	ReadMessage(ctx context.Context) (domain.Message, error)
}

// Config tunes the background tasks that run alongside each channel.
type Config struct {
	LivenessInterval time.Duration
	PollInterval     time.Duration
	CaptureWindow    time.Duration
	HeadStartWindow  time.Duration
	// HeadStart selects the short capture window instead of the main one.
	HeadStart bool
	Detector  domain.InitDetector
	Instance  string
}

// DefaultConfig returns the timings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		LivenessInterval: defaultLivenessInterval,
		PollInterval:     defaultPollInterval,
		CaptureWindow:    defaultCaptureWindow,
		HeadStartWindow:  defaultHeadStartWindow,
		Detector:         WebMTracksDetector(),
	}
}

func (c Config) captureWindow() time.Duration {
	if c.HeadStart {
		return c.HeadStartWindow
	}
	return c.CaptureWindow
}

// Service runs transmitter and client sessions against a shared Registry.
type Service struct {
	registry  *Registry
	directory domain.ChannelDirectory
	clock     clockwork.Clock
	cfg       Config
	reporter  *LivenessReporter
}

// NewService creates a relay service. directory may be nil.
func NewService(registry *Registry, directory domain.ChannelDirectory, clock clockwork.Clock, cfg Config) *Service {
	return &Service{
		registry:  registry,
		directory: directory,
		clock:     clock,
		cfg:       cfg,
		reporter:  NewLivenessReporter(registry, directory, clock, cfg.LivenessInterval, cfg.Instance),
	}
}

// ServeTransmitter runs the broadcast loop for one transmitter connection until it disconnects.
func (s *Service) ServeTransmitter(ctx context.Context, peer domain.Peer, reader MessageReader) error {
	return newTransmitterSession(s, peer, reader).run(ctx)
}

// ServeClient runs the control loop for one client connection until it disconnects.
func (s *Service) ServeClient(ctx context.Context, peer domain.Peer, reader MessageReader) error {
	return newClientSession(s.registry, peer, reader).run(ctx)
}

func (s *Service) newCollector() *Collector {
	return NewCollector(s.registry, s.cfg.Detector, s.clock, s.cfg.PollInterval, s.cfg.captureWindow())
}
