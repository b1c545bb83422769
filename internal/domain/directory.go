package domain

import (
	"context"
	"time"
)

// ChannelEntry is the public announcement of a live channel.
type ChannelEntry struct {
	Name      string    `json:"name"`
	Members   int       `json:"members"`
	HasInit   bool      `json:"has_init"`
	Instance  string    `json:"instance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChannelDirectory announces live channels to an external listing (for example a
// Redis hash read by dashboards). It never carries media.
type ChannelDirectory interface {
	Announce(ctx context.Context, entry ChannelEntry) error
	Withdraw(ctx context.Context, name string) error
}

// InitDetector decides whether the accumulated leading bytes of a stream contain
// enough decoder metadata to be replayed to late joiners.
type InitDetector interface {
	Detect(buf []byte) bool
}
