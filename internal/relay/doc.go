// Package relay is the channel registry and fan-out engine.
//
// A transmitter names a channel with its first text message and then streams
// binary frames. Every frame is queued to each client currently joined to that
// channel. The leading bytes of the stream are captured as an initialization
// segment and replayed to clients that join later, ahead of any live frame.
//
// Concurrency model:
//   - Registry is an actor. One goroutine owns all channels and member sets and
//     processes commands sequentially, so joins, leaves and broadcast passes are
//     totally ordered.
//   - Peers never block the actor: domain.Peer.Send only enqueues, and a peer whose
//     queue is full or closed is evicted from its channel.
//   - Each channel runs a LivenessReporter for its whole life and a Collector from
//     the first frame until the initialization segment is finalized. Both are
//     cancelled by the transmitter session before the channel is destroyed.
package relay
