package iotmqtt

// ConnectionState is the status the lifecycle controller reports to the
// user-supplied status callback. It never skips a transition: a
// reconnect always passes back through Connecting.
type ConnectionState int

const (
	// Connecting indicates a transport dial (or credentials fetch, for
	// SignedWebSocket) is in progress.
	Connecting ConnectionState = iota
	// Connected indicates the MQTT session completed CONNECT/CONNACK.
	Connected
	// ConnectionRefused indicates the broker rejected the CONNECT. No
	// automatic retry follows this state (spec open question, preserved).
	ConnectionRefused
	// ConnectionError indicates a transport or session failure that was
	// not user-initiated; a reconnect will be scheduled unless the user
	// has issued Disconnect.
	ConnectionError
	// ProtocolError indicates the session detected a malformed or
	// out-of-sequence packet; a full Disconnect follows.
	ProtocolError
	// Disconnected is the terminal state after a user-initiated
	// Disconnect completes.
	Disconnected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case ConnectionRefused:
		return "ConnectionRefused"
	case ConnectionError:
		return "ConnectionError"
	case ProtocolError:
		return "ProtocolError"
	case Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// StatusCallback receives the latest ConnectionState. It is always
// invoked on the background work pool, never on the event loop goroutine.
type StatusCallback func(ConnectionState)
