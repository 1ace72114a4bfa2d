package client

// State is the client's position in the session lifecycle.
type State int32

const (
	// Disconnected means no session and no discovery in flight.
	Disconnected State = iota

	// Discovering means the client is broadcasting for a server.
	Discovering

	// Connecting means a server answered and the connect handshake is
	// in flight.
	Connecting

	// Connected means the handshake completed and keepalives are
	// running.
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Discovering:
		return "discovering"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}
