package replication

import "github.com/kvreplica/kvreplica/internal/protocol"

// HandshakeState is the primary-side role machine of spec.md §4.5.1,
// observing each connection's command stream alongside the normal
// dispatcher to detect a replica's promotion sequence.
type HandshakeState int

const (
	Null HandshakeState = iota
	Ponged
	Replconf1
	Replconf2
	FullSynced
)

// Observer tracks one connection's progress through the handshake state
// machine. Any command other than the expected next step resets to Null.
type Observer struct {
	state HandshakeState
}

// NewObserver returns an Observer starting at Null.
func NewObserver() *Observer { return &Observer{state: Null} }

// State returns the observer's current state.
func (o *Observer) State() HandshakeState { return o.state }

// Observe advances the state machine given the uppercased command name and
// its arguments, returning the resulting state. Callers compare the
// returned state to FullSynced to know when to promote the connection.
func (o *Observer) Observe(name string, args []string) HandshakeState {
	switch o.state {
	case Null:
		if name == "PING" {
			o.state = Ponged
		}
	case Ponged:
		if name == "REPLCONF" && len(args) == 2 && protocol.LowerASCII(args[0]) == "listening-port" {
			o.state = Replconf1
		} else {
			o.state = Null
		}
	case Replconf1:
		if name == "REPLCONF" && len(args) == 2 && protocol.LowerASCII(args[0]) == "capa" {
			o.state = Replconf2
		} else {
			o.state = Null
		}
	case Replconf2:
		if name == "PSYNC" && len(args) == 2 && args[0] == "?" && args[1] == "-1" {
			o.state = FullSynced
		} else {
			o.state = Null
		}
	case FullSynced:
		// Terminal; once promoted the connection leaves the dispatcher loop.
	}
	return o.state
}
