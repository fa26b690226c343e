package streamer

// State is the lifecycle state of a streamer connection.
type State int32

const (
	Disconnected State = iota
	Handshaking
	Connected
	Streaming
	Closing
	Closed
	Faulted
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Handshaking:
		return "handshaking"
	case Connected:
		return "connected"
	case Streaming:
		return "streaming"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}
