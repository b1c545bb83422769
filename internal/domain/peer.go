package domain

// MessageKind distinguishes UTF-8 control messages from raw media payloads.
type MessageKind int

const (
	KindText MessageKind = iota + 1
	KindBinary
)

func (k MessageKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Message is a single unit exchanged with a peer. Data is never mutated after
// construction, so one Message may be handed to many peers.
type Message struct {
	Kind MessageKind
	Data []byte
}

func TextMessage(text string) Message {
	return Message{Kind: KindText, Data: []byte(text)}
}

func BinaryMessage(data []byte) Message {
	return Message{Kind: KindBinary, Data: data}
}

// Peer is one side of a duplex connection, either a transmitter or a client.
// Implementations must be comparable (pointer types) because peers are used as map keys.
type Peer interface {
	// ID returns a stable identifier used in logs.
	ID() string

	// Send queues msg for delivery. It must not block; when the message cannot be
	// queued it returns an error wrapping ErrPeerClosed or ErrSendQueueFull.
	Send(msg Message) error

	// Close terminates the connection. Messages queued before Close are flushed
	// on a best-effort basis.
	Close(reason string) error
}
