package relay

import "github.com/The-Promised-Neverland/rfcomm-mitm/internal/transport"

// LinkID names one side of the relay.
type LinkID int

const (
	// Client is the outbound link towards the slave device.
	Client LinkID = iota
	// Server is the inbound link the master connects to.
	Server
)

func (l LinkID) String() string {
	if l == Server {
		return "server"
	}
	return "client"
}

// Other returns the opposite link.
func (l LinkID) Other() LinkID {
	if l == Server {
		return Client
	}
	return Server
}

// State of a link.
type State int

const (
	Idle State = iota
	Discovering
	Connecting
	Open
	Closing
	Closed
)

var stateNames = [...]string{"idle", "discovering", "connecting", "open", "closing", "closed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Condition is the kind of an engine event.
type Condition int

const (
	CondClosed Condition = iota
	CondData
	CondDebug
	CondDisconnect
	CondError
	CondFailure
	CondNewClient
	CondFound
	CondFinished
	CondConnected
)

var conditionNames = [...]string{
	"closed", "data", "debug", "disconnect", "error", "failure",
	"newclient", "found", "finished", "connected",
}

func (c Condition) String() string {
	if c < 0 || int(c) >= len(conditionNames) {
		return "unknown"
	}
	return conditionNames[c]
}

// Event is one notification from the engine.
type Event struct {
	Link      LinkID
	Condition Condition
	// Data is the raw payload of a data event.
	Data []byte
	// Peer is set for found, newclient and connected events.
	Peer transport.Peer
	// Err is set for error and failure events.
	Err error
	// Detail is the text of a debug event.
	Detail string
}

// Type is the tagged wire name, e.g. "client.data".
func (e Event) Type() string {
	return e.Link.String() + "." + e.Condition.String()
}

// Observer receives engine events. OnEvent runs on the goroutine that
// produced the event and must not block.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(ev Event) { f(ev) }
