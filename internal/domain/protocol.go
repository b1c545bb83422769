package domain

// Replies sent to transmitters.
const (
	ReplyChannelCreated      = "Channel created"
	ReplyChannelExists       = "Channel already exists"
	ReplyChannelNameRequired = "Channel name required"
)

// Client commands and replies.
const (
	CmdListChannels = "list_channels"
	CmdJoin         = "join"
	CmdLeave        = "leave"

	ReplyJoined          = "Joined"
	ReplyLeft            = "Left"
	ReplyChannelNotFound = "Channel not found"
)

const LivenessReportType = "client_count"

// LivenessReport is sent periodically to a transmitter.
type LivenessReport struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}
