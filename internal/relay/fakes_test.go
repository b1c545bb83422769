package relay

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pscheid92/audiorelay/internal/domain"
	"github.com/stretchr/testify/require"
)

var peerSeq atomic.Int64

// fakePeer records every message it accepts. failAfter < 0 means it never fails.
type fakePeer struct {
	id string

	mu        sync.Mutex
	messages  []domain.Message
	closed    bool
	reason    string
	failAfter int
}

func newFakePeer() *fakePeer {
	return &fakePeer{id: fmt.Sprintf("peer-%d", peerSeq.Add(1)), failAfter: -1}
}

// newFailingPeer returns a peer that accepts n messages and then reports a full queue.
func newFailingPeer(n int) *fakePeer {
	p := newFakePeer()
	p.failAfter = n
	return p
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(msg domain.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return domain.ErrPeerClosed
	}
	if p.failAfter >= 0 && len(p.messages) >= p.failAfter {
		return domain.ErrSendQueueFull
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *fakePeer) Close(reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.reason = reason
	return nil
}

func (p *fakePeer) received() []domain.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Message(nil), p.messages...)
}

func (p *fakePeer) texts() []string {
	var out []string
	for _, msg := range p.received() {
		if msg.Kind == domain.KindText {
			out = append(out, string(msg.Data))
		}
	}
	return out
}

func (p *fakePeer) binaries() [][]byte {
	var out [][]byte
	for _, msg := range p.received() {
		if msg.Kind == domain.KindBinary {
			out = append(out, msg.Data)
		}
	}
	return out
}

func (p *fakePeer) isClosed() (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.reason
}

// fakeReader feeds scripted messages to a session. Closing it ends the session with io.EOF.
type fakeReader struct {
	ch   chan domain.Message
	done chan struct{}
	once sync.Once
}

func newFakeReader() *fakeReader {
	return &fakeReader{ch: make(chan domain.Message, 64), done: make(chan struct{})}
}

// ReadMessage drains queued messages before reporting a hang-up.
func (r *fakeReader) ReadMessage(ctx context.Context) (domain.Message, error) {
	select {
	case msg := <-r.ch:
		return msg, nil
	default:
	}

	select {
	case msg := <-r.ch:
		return msg, nil
	case <-r.done:
		return domain.Message{}, io.EOF
	case <-ctx.Done():
		return domain.Message{}, ctx.Err()
	}
}

func (r *fakeReader) text(s string)   { r.ch <- domain.TextMessage(s) }
func (r *fakeReader) binary(b []byte) { r.ch <- domain.BinaryMessage(b) }
func (r *fakeReader) hangUp()         { r.once.Do(func() { close(r.done) }) }

// fakeDirectory records announcements and withdrawals.
type fakeDirectory struct {
	mu        sync.Mutex
	entries   map[string]domain.ChannelEntry
	withdrawn []string
	err       error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{entries: make(map[string]domain.ChannelEntry)}
}

func (d *fakeDirectory) Announce(_ context.Context, entry domain.ChannelEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.entries[entry.Name] = entry
	return nil
}

func (d *fakeDirectory) Withdraw(_ context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, name)
	d.withdrawn = append(d.withdrawn, name)
	return d.err
}

func (d *fakeDirectory) entry(name string) (domain.ChannelEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[name]
	return e, ok
}

func (d *fakeDirectory) withdrawals() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.withdrawn...)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}
