package launcher

import "fmt"

// State is the matchmaking phase of a Controller.
type State uint8

const (
	StateIdle State = iota
	StateConnecting
	StateWaitingForRandomJoin
	StateCreatingRoom
	StateInRoom
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateWaitingForRandomJoin:
		return "WaitingForRandomJoin"
	case StateCreatingRoom:
		return "CreatingRoom"
	case StateInRoom:
		return "InRoom"
	case StateDisconnected:
		return "Disconnected"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// attempting reports whether a matchmaking attempt is in flight.
func (s State) attempting() bool {
	return s == StateConnecting || s == StateWaitingForRandomJoin || s == StateCreatingRoom
}

// DisconnectCause describes why the network service lost its connection. Diagnostic only.
type DisconnectCause uint8

const (
	DisconnectNone DisconnectCause = iota
	DisconnectExceptionOnConnect
	DisconnectException
	DisconnectServerTimeout
	DisconnectClientTimeout
	DisconnectByServerLogic
	DisconnectByClientLogic
	DisconnectMaxReconnectsExceeded
)

func (c DisconnectCause) String() string {
	switch c {
	case DisconnectNone:
		return "None"
	case DisconnectExceptionOnConnect:
		return "ExceptionOnConnect"
	case DisconnectException:
		return "Exception"
	case DisconnectServerTimeout:
		return "ServerTimeout"
	case DisconnectClientTimeout:
		return "ClientTimeout"
	case DisconnectByServerLogic:
		return "DisconnectByServerLogic"
	case DisconnectByClientLogic:
		return "DisconnectByClientLogic"
	case DisconnectMaxReconnectsExceeded:
		return "MaxReconnectsExceeded"
	default:
		return fmt.Sprintf("DisconnectCause(%d)", uint8(c))
	}
}
