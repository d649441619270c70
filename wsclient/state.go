package wsclient

// State is the lifecycle state of the controller's connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// StatusClass is the style hint passed along with status text.
type StatusClass string

const (
	StatusConnecting   StatusClass = "connecting"
	StatusConnected    StatusClass = "connected"
	StatusDisconnected StatusClass = "disconnected"
)

// Surface is the display the controller writes to. Implementations own the
// rendering; the controller only calls these from its loop goroutine.
type Surface interface {
	AppendReceived(text string)
	AppendSent(text string)
	AppendSystem(text string)
	SetStatus(text string, class StatusClass)
	SetInputEnabled(enabled bool)
	ClearInput()
}
