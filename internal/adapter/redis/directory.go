package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/audiorelay/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	directoryKey      = "audiorelay:channels"
	defaultStaleAfter = 30 * time.Second
)

// Directory publishes the channels live on this relay to a shared Redis hash so
// that operators and other tools can discover them. Each channel is one field
// holding a JSON-encoded domain.ChannelEntry. Entries carry their own timestamp;
// an entry not refreshed within staleAfter belongs to a relay that went away
// without withdrawing and is ignored by List.
type Directory struct {
	rdb        *goredis.Client
	clock      clockwork.Clock
	staleAfter time.Duration
}

var _ domain.ChannelDirectory = (*Directory)(nil)

func NewDirectory(rdb *goredis.Client, clock clockwork.Clock, staleAfter time.Duration) *Directory {
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &Directory{rdb: rdb, clock: clock, staleAfter: staleAfter}
}

// Announce creates or refreshes the entry for a channel.
func (d *Directory) Announce(ctx context.Context, entry domain.ChannelEntry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = d.clock.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode channel entry: %w", err)
	}

	if err := d.rdb.HSet(ctx, directoryKey, entry.Name, data).Err(); err != nil {
		return fmt.Errorf("announce channel %q: %w", entry.Name, err)
	}
	return nil
}

// Withdraw removes the entry for a channel. Unknown names are ignored.
func (d *Directory) Withdraw(ctx context.Context, name string) error {
	if err := d.rdb.HDel(ctx, directoryKey, name).Err(); err != nil {
		return fmt.Errorf("withdraw channel %q: %w", name, err)
	}
	return nil
}

// List returns every fresh entry, sorted by channel name. Undecodable entries are skipped.
func (d *Directory) List(ctx context.Context) ([]domain.ChannelEntry, error) {
	fields, err := d.rdb.HGetAll(ctx, directoryKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}

	entries := make([]domain.ChannelEntry, 0, len(fields))
	now := d.clock.Now()

	for name, data := range fields {
		var entry domain.ChannelEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			slog.Warn("Skipping malformed channel entry", "channel", name, "error", err)
			continue
		}
		if now.Sub(entry.UpdatedAt) > d.staleAfter {
			continue
		}
		entries = append(entries, entry)
	}

	slices.SortFunc(entries, func(a, b domain.ChannelEntry) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return entries, nil
}

// Ping reports whether Redis is reachable, for readiness checks.
func (d *Directory) Ping(ctx context.Context) error {
	return d.rdb.Ping(ctx).Err()
}
