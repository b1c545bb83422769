package relay

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/pscheid92/audiorelay/internal/domain"
)

// ErrChannelNameRequired is returned when a transmitter opens with a binary frame.
var ErrChannelNameRequired = errors.New(domain.ReplyChannelNameRequired)

// IsConnectionLost reports whether err means the remote side went away, which ends
// a session normally rather than as a failure.
func IsConnectionLost(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, domain.ErrPeerClosed)
}
