package relay

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/audiorelay/internal/adapter/metrics"
	"github.com/pscheid92/audiorelay/internal/domain"
)

const (
	commandTimeout      = 5 * time.Second
	stopTimeout         = 10 * time.Second
	commandChannelDepth = 256
)

// FinalizeReason records why an initialization segment was accepted.
type FinalizeReason string

const (
	FinalizeMarker  FinalizeReason = "marker"
	FinalizeTimeout FinalizeReason = "timeout"
)

// ChannelInfo is a point-in-time view of a channel.
type ChannelInfo struct {
	Name        string
	Members     int
	InitSegment []byte // nil until finalized; never mutated afterwards
	CreatedAt   time.Time
	Frames      uint64
	Bytes       uint64
}

// JoinResult describes a successful join. When InitSegment is non-nil it has
// already been queued to the member ahead of any later broadcast.
type JoinResult struct {
	Channel     string
	Previous    string
	InitSegment []byte
}

// BroadcastResult reports the outcome of one fan-out pass.
type BroadcastResult struct {
	Delivered int
	Evicted   []domain.Peer
}

// InitStatus reports the state of initialization capture for a channel.
type InitStatus struct {
	Finalized bool
	Reason    FinalizeReason
	Size      int
}

// initState is either initCollecting or initFinal, never both.
type initState interface{ isInitState() }

type initCollecting struct{ buf []byte }

type initFinal struct{ segment []byte }

func (*initCollecting) isInitState() {}
func (*initFinal) isInitState()      {}

type channel struct {
	name        string
	transmitter domain.Peer
	members     map[domain.Peer]struct{}
	init        initState
	createdAt   time.Time
	frames      uint64
	bytes       uint64
}

func (ch *channel) info() ChannelInfo {
	info := ChannelInfo{
		Name:      ch.name,
		Members:   len(ch.members),
		CreatedAt: ch.createdAt,
		Frames:    ch.frames,
		Bytes:     ch.bytes,
	}
	if final, ok := ch.init.(*initFinal); ok {
		info.InitSegment = final.segment
	}
	return info
}

// registryCmd is the command interface for the Registry actor.
type registryCmd interface{ isRegistryCmd() }

type baseRegistryCmd struct{}

func (baseRegistryCmd) isRegistryCmd() {}

type createCmd struct {
	baseRegistryCmd
	name        string
	transmitter domain.Peer
	reply       chan error
}

type destroyCmd struct {
	baseRegistryCmd
	name  string
	reply chan int
}

type lookupReply struct {
	info  ChannelInfo
	found bool
}

type lookupCmd struct {
	baseRegistryCmd
	name  string
	reply chan lookupReply
}

type snapshotCmd struct {
	baseRegistryCmd
	reply chan []ChannelInfo
}

type joinReply struct {
	result JoinResult
	err    error
}

type joinCmd struct {
	baseRegistryCmd
	name   string
	member domain.Peer
	reply  chan joinReply
}

type leaveReply struct {
	channel string
	left    bool
}

type leaveCmd struct {
	baseRegistryCmd
	name   string // empty means whichever channel the member is in
	member domain.Peer
	reply  chan leaveReply
}

type channelOfCmd struct {
	baseRegistryCmd
	member domain.Peer
	reply  chan leaveReply
}

type broadcastReply struct {
	result BroadcastResult
	err    error
}

type broadcastCmd struct {
	baseRegistryCmd
	name  string
	frame []byte
	reply chan broadcastReply
}

type checkInitReply struct {
	status InitStatus
	err    error
}

type checkInitCmd struct {
	baseRegistryCmd
	name     string
	detector domain.InitDetector
	force    bool
	reply    chan checkInitReply
}

type pingCmd struct {
	baseRegistryCmd
	reply chan struct{}
}

type stopCmd struct {
	baseRegistryCmd
}

// Registry owns every channel and its member set. A single goroutine applies all
// mutations, so broadcast passes, joins and leaves are strictly ordered and a pass
// never observes a half-applied membership change.
type Registry struct {
	cmdCh    chan registryCmd
	clock    clockwork.Clock
	metrics  *metrics.RelayMetrics
	done     chan struct{}
	stopOnce sync.Once

	channels map[string]*channel
	memberOf map[domain.Peer]string

	commandTimeout time.Duration
	stopTimeout    time.Duration
}

// NewRegistry starts the registry actor. relayMetrics may be nil.
func NewRegistry(clock clockwork.Clock, relayMetrics *metrics.RelayMetrics) *Registry {
	r := &Registry{
		cmdCh:          make(chan registryCmd, commandChannelDepth),
		clock:          clock,
		metrics:        relayMetrics,
		done:           make(chan struct{}),
		channels:       make(map[string]*channel),
		memberOf:       make(map[domain.Peer]string),
		commandTimeout: commandTimeout,
		stopTimeout:    stopTimeout,
	}
	go r.run()
	return r
}

// request sends a command built around a fresh reply channel and waits for the answer.
func request[T any](r *Registry, build func(reply chan T) registryCmd) (T, error) {
	var zero T
	reply := make(chan T, 1)

	select {
	case r.cmdCh <- build(reply):
	case <-r.done:
		return zero, domain.ErrRegistryStopped
	}

	timer := r.clock.NewTimer(r.commandTimeout)
	defer timer.Stop()

	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		return zero, domain.ErrRegistryStopped
	case <-timer.Chan():
		return zero, fmt.Errorf("registry command timed out after %v", r.commandTimeout)
	}
}

// Create registers a new channel owned by transmitter.
func (r *Registry) Create(name string, transmitter domain.Peer) error {
	err, reqErr := request(r, func(reply chan error) registryCmd {
		return createCmd{name: name, transmitter: transmitter, reply: reply}
	})
	if reqErr != nil {
		return reqErr
	}
	return err
}

// Destroy removes a channel and detaches all of its members. Unknown names are ignored.
// It returns the number of members that were detached.
func (r *Registry) Destroy(name string) int {
	detached, err := request(r, func(reply chan int) registryCmd {
		return destroyCmd{name: name, reply: reply}
	})
	if err != nil {
		slog.Warn("Destroy channel failed", "channel", name, "error", err)
		return 0
	}
	return detached
}

// Lookup returns a snapshot of the named channel.
func (r *Registry) Lookup(name string) (ChannelInfo, bool) {
	res, err := request(r, func(reply chan lookupReply) registryCmd {
		return lookupCmd{name: name, reply: reply}
	})
	if err != nil {
		return ChannelInfo{}, false
	}
	return res.info, res.found
}

// Snapshot returns a view of every live channel, sorted by name.
func (r *Registry) Snapshot() []ChannelInfo {
	infos, err := request(r, func(reply chan []ChannelInfo) registryCmd {
		return snapshotCmd{reply: reply}
	})
	if err != nil {
		return []ChannelInfo{}
	}
	return infos
}

// Channels returns the names of every live channel. The result is never nil.
func (r *Registry) Channels() []string {
	infos := r.Snapshot()
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return names
}

// Join adds member to the named channel, detaching it from any other channel first.
// A finalized initialization segment is queued to the member before it becomes
// visible to broadcasts.
func (r *Registry) Join(name string, member domain.Peer) (JoinResult, error) {
	res, err := request(r, func(reply chan joinReply) registryCmd {
		return joinCmd{name: name, member: member, reply: reply}
	})
	if err != nil {
		return JoinResult{}, err
	}
	return res.result, res.err
}

// Leave detaches member from whichever channel it is in. It returns the channel
// left and false when the member was not joined anywhere.
func (r *Registry) Leave(member domain.Peer) (string, bool) {
	return r.leave("", member)
}

// LeaveChannel detaches member from name only if it is currently a member there.
func (r *Registry) LeaveChannel(name string, member domain.Peer) bool {
	_, left := r.leave(name, member)
	return left
}

func (r *Registry) leave(name string, member domain.Peer) (string, bool) {
	res, err := request(r, func(reply chan leaveReply) registryCmd {
		return leaveCmd{name: name, member: member, reply: reply}
	})
	if err != nil {
		return "", false
	}
	return res.channel, res.left
}

// ChannelOf returns the channel member is currently joined to.
func (r *Registry) ChannelOf(member domain.Peer) (string, bool) {
	res, err := request(r, func(reply chan leaveReply) registryCmd {
		return channelOfCmd{member: member, reply: reply}
	})
	if err != nil {
		return "", false
	}
	return res.channel, res.left
}

// MemberCount returns the number of members of the named channel.
func (r *Registry) MemberCount(name string) (int, bool) {
	info, found := r.Lookup(name)
	return info.Members, found
}

// Broadcast appends frame to the pending initialization buffer (until finalized) and
// queues it to every current member. Members whose Send fails are evicted.
func (r *Registry) Broadcast(name string, frame []byte) (BroadcastResult, error) {
	res, err := request(r, func(reply chan broadcastReply) registryCmd {
		return broadcastCmd{name: name, frame: frame, reply: reply}
	})
	if err != nil {
		return BroadcastResult{}, err
	}
	return res.result, res.err
}

// CheckInit evaluates detector against the pending initialization buffer and
// finalizes it on a match, or unconditionally when force is set and the buffer is not empty.
func (r *Registry) CheckInit(name string, detector domain.InitDetector, force bool) (InitStatus, error) {
	res, err := request(r, func(reply chan checkInitReply) registryCmd {
		return checkInitCmd{name: name, detector: detector, force: force, reply: reply}
	})
	if err != nil {
		return InitStatus{}, err
	}
	return res.status, res.err
}

// Ping round-trips a no-op command through the actor.
func (r *Registry) Ping() error {
	_, err := request(r, func(reply chan struct{}) registryCmd {
		return pingCmd{reply: reply}
	})
	return err
}

// Stop closes every transmitter and member connection and shuts the actor down.
// Blocks until the actor goroutine has exited or the stop timeout is reached.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		select {
		case r.cmdCh <- stopCmd{}:
		case <-r.done:
			return
		}

		timeout := r.clock.NewTimer(r.stopTimeout)
		defer timeout.Stop()

		select {
		case <-r.done:
			slog.Info("Registry stopped gracefully")
		case <-timeout.Chan():
			slog.Warn("Registry stop timeout exceeded", "timeout", r.stopTimeout)
		}
	})
}

func (r *Registry) run() {
	defer close(r.done)
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Registry panic recovered", "panic", rec)
			r.closeAll("registry failure")
		}
	}()

	for cmd := range r.cmdCh {
		switch c := cmd.(type) {
		case createCmd:
			c.reply <- r.handleCreate(c)
		case destroyCmd:
			c.reply <- r.handleDestroy(c.name)
		case lookupCmd:
			ch, found := r.channels[c.name]
			if !found {
				c.reply <- lookupReply{}
				continue
			}
			c.reply <- lookupReply{info: ch.info(), found: true}
		case snapshotCmd:
			c.reply <- r.handleSnapshot()
		case joinCmd:
			c.reply <- r.handleJoin(c)
		case leaveCmd:
			c.reply <- r.handleLeave(c.name, c.member)
		case channelOfCmd:
			name, ok := r.memberOf[c.member]
			c.reply <- leaveReply{channel: name, left: ok}
		case broadcastCmd:
			c.reply <- r.handleBroadcast(c)
		case checkInitCmd:
			c.reply <- r.handleCheckInit(c)
		case pingCmd:
			c.reply <- struct{}{}
		case stopCmd:
			r.handleStop()
			return
		default:
			slog.Warn("Registry received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (r *Registry) handleCreate(c createCmd) error {
	if _, exists := r.channels[c.name]; exists {
		return domain.ErrChannelAlreadyExists
	}

	r.channels[c.name] = &channel{
		name:        c.name,
		transmitter: c.transmitter,
		members:     make(map[domain.Peer]struct{}),
		init:        &initCollecting{},
		createdAt:   r.clock.Now(),
	}
	r.updateGauges()

	slog.Info("Channel created", "channel", c.name, "transmitter", c.transmitter.ID())
	return nil
}

func (r *Registry) handleDestroy(name string) int {
	ch, exists := r.channels[name]
	if !exists {
		return 0
	}

	for member := range ch.members {
		delete(r.memberOf, member)
	}
	delete(r.channels, name)
	r.updateGauges()

	slog.Info("Channel destroyed", "channel", name, "detached_members", len(ch.members), "frames", ch.frames, "bytes", ch.bytes)
	return len(ch.members)
}

func (r *Registry) handleSnapshot() []ChannelInfo {
	infos := make([]ChannelInfo, 0, len(r.channels))
	for _, ch := range r.channels {
		infos = append(infos, ch.info())
	}
	slices.SortFunc(infos, func(a, b ChannelInfo) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return infos
}

func (r *Registry) handleJoin(c joinCmd) joinReply {
	ch, exists := r.channels[c.name]
	if !exists {
		return joinReply{err: domain.ErrChannelNotFound}
	}

	previous, _ := r.detach(c.member)
	result := JoinResult{Channel: c.name, Previous: previous}

	if final, ok := ch.init.(*initFinal); ok {
		if err := c.member.Send(domain.BinaryMessage(final.segment)); err != nil {
			r.updateGauges()
			slog.Warn("Init segment replay failed", "channel", c.name, "peer", c.member.ID(), "error", err)
			return joinReply{result: result, err: fmt.Errorf("replay init segment: %w: %w", domain.ErrDeliveryFailed, err)}
		}
		result.InitSegment = final.segment
	}

	ch.members[c.member] = struct{}{}
	r.memberOf[c.member] = c.name
	r.updateGauges()

	slog.Debug("Client joined", "channel", c.name, "peer", c.member.ID(), "members", len(ch.members), "init_replayed", result.InitSegment != nil)
	return joinReply{result: result}
}

func (r *Registry) handleLeave(name string, member domain.Peer) leaveReply {
	current, joined := r.memberOf[member]
	if !joined || (name != "" && current != name) {
		return leaveReply{}
	}

	r.detach(member)
	r.updateGauges()

	slog.Debug("Client left", "channel", current, "peer", member.ID())
	return leaveReply{channel: current, left: true}
}

// detach removes member from its current channel without touching gauges.
func (r *Registry) detach(member domain.Peer) (string, bool) {
	current, joined := r.memberOf[member]
	if !joined {
		return "", false
	}
	if ch, exists := r.channels[current]; exists {
		delete(ch.members, member)
	}
	delete(r.memberOf, member)
	return current, true
}

func (r *Registry) handleBroadcast(c broadcastCmd) broadcastReply {
	ch, exists := r.channels[c.name]
	if !exists {
		return broadcastReply{err: domain.ErrChannelNotFound}
	}

	ch.frames++
	ch.bytes += uint64(len(c.frame))
	if r.metrics != nil {
		r.metrics.FramesBroadcast.Inc()
		r.metrics.BytesBroadcast.Add(float64(len(c.frame)))
	}

	if collecting, ok := ch.init.(*initCollecting); ok {
		collecting.buf = append(collecting.buf, c.frame...)
	}

	msg := domain.BinaryMessage(c.frame)
	var result BroadcastResult
	for member := range ch.members {
		if err := member.Send(msg); err != nil {
			slog.Warn("Evicting member after delivery failure", "channel", c.name, "peer", member.ID(), "error", err)
			result.Evicted = append(result.Evicted, member)
			continue
		}
		result.Delivered++
	}

	for _, member := range result.Evicted {
		r.detach(member)
	}
	if len(result.Evicted) > 0 {
		if r.metrics != nil {
			r.metrics.MembersEvicted.Add(float64(len(result.Evicted)))
		}
		r.updateGauges()
	}

	return broadcastReply{result: result}
}

func (r *Registry) handleCheckInit(c checkInitCmd) checkInitReply {
	ch, exists := r.channels[c.name]
	if !exists {
		return checkInitReply{err: domain.ErrChannelNotFound}
	}

	switch state := ch.init.(type) {
	case *initFinal:
		return checkInitReply{status: InitStatus{Finalized: true, Size: len(state.segment)}}
	case *initCollecting:
		if len(state.buf) == 0 {
			return checkInitReply{}
		}
		switch {
		case c.detector != nil && c.detector.Detect(state.buf):
			return checkInitReply{status: r.finalize(ch, state, FinalizeMarker)}
		case c.force:
			return checkInitReply{status: r.finalize(ch, state, FinalizeTimeout)}
		default:
			return checkInitReply{status: InitStatus{Size: len(state.buf)}}
		}
	default:
		return checkInitReply{err: errors.New("unknown init state")}
	}
}

func (r *Registry) finalize(ch *channel, state *initCollecting, reason FinalizeReason) InitStatus {
	segment := state.buf
	ch.init = &initFinal{segment: segment}

	if r.metrics != nil {
		r.metrics.InitSegmentsFinalized.WithLabelValues(string(reason)).Inc()
		r.metrics.InitSegmentBytes.Observe(float64(len(segment)))
	}
	slog.Info("Init segment finalized", "channel", ch.name, "reason", reason, "bytes", len(segment))

	return InitStatus{Finalized: true, Reason: reason, Size: len(segment)}
}

func (r *Registry) handleStop() {
	totalMembers := len(r.memberOf)
	slog.Info("Registry shutting down", "channels", len(r.channels), "members", totalMembers)

	r.closeAll("Server shutting down")

	slog.Info("Registry shutdown complete", "disconnected_members", totalMembers)
}

// closeAll closes every transmitter and member connection and forgets all channels.
// Used during panic recovery and graceful shutdown.
func (r *Registry) closeAll(reason string) {
	for name, ch := range r.channels {
		for member := range ch.members {
			_ = member.Close(reason)
		}
		_ = ch.transmitter.Close(reason)
		delete(r.channels, name)
	}
	clear(r.memberOf)
	r.updateGauges()
}

func (r *Registry) updateGauges() {
	if r.metrics == nil {
		return
	}
	r.metrics.ActiveChannels.Set(float64(len(r.channels)))
	r.metrics.JoinedClients.Set(float64(len(r.memberOf)))
}
