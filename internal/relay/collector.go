package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/audiorelay/internal/domain"
)

const (
	defaultPollInterval    = 50 * time.Millisecond
	defaultCaptureWindow   = 700 * time.Millisecond
	defaultHeadStartWindow = 300 * time.Millisecond
)

type initChecker interface {
	CheckInit(name string, detector domain.InitDetector, force bool) (InitStatus, error)
}

// Collector decides when the leading bytes of a stream become the channel's
// initialization segment. The bytes themselves accumulate inside the registry as
// frames are broadcast; the collector only polls and finalizes.
type Collector struct {
	registry     initChecker
	detector     domain.InitDetector
	clock        clockwork.Clock
	pollInterval time.Duration
	maxWait      time.Duration
}

func NewCollector(registry initChecker, detector domain.InitDetector, clock clockwork.Clock, pollInterval, maxWait time.Duration) *Collector {
	if detector == nil {
		detector = NeverDetect
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if maxWait <= 0 {
		maxWait = defaultCaptureWindow
	}
	return &Collector{
		registry:     registry,
		detector:     detector,
		clock:        clock,
		pollInterval: pollInterval,
		maxWait:      maxWait,
	}
}

// Run polls until the segment is finalized, the wait budget is spent, the channel
// disappears, or ctx is cancelled. A failed check (for example a registry command
// timeout) is logged and retried on the next tick; past the deadline every tick
// retries the forced check. Run reports whether the channel ends up with a
// finalized segment. False means capture must be armed again by the next frame.
func (c *Collector) Run(ctx context.Context, name string) bool {
	ticker := c.clock.NewTicker(c.pollInterval)
	defer ticker.Stop()

	deadline := c.clock.Now().Add(c.maxWait)

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.Chan():
		}

		force := !c.clock.Now().Before(deadline)
		status, err := c.registry.CheckInit(name, c.detector, force)
		switch {
		case errors.Is(err, domain.ErrChannelNotFound), errors.Is(err, domain.ErrRegistryStopped):
			return false
		case err != nil:
			slog.WarnContext(ctx, "Init capture check failed, retrying", "channel", name, "forced", force, "error", err)
			continue
		}

		if status.Finalized {
			return true
		}
		if force {
			// Nothing buffered yet.
			return false
		}
	}
}
