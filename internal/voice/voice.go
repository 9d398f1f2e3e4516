// Package voice is the contract with the telephony SDK. The SDK owns
// signaling and media; this module only drives a call through it and
// listens to its lifecycle.
package voice

import (
	"fmt"

	"github.com/google/uuid"
)

// State is the SDK's view of a call.
type State int

const (
	StateConnecting State = iota
	StateRinging
	StateConnected
	StateReconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRinging:
		return "ringing"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ConnectOptions describes an outgoing call.
type ConnectOptions struct {
	AccessToken string
	// Params are forwarded verbatim to the signaling backend. Both
	// platforms send the same From/To shape.
	Params map[string]string
	// CallID correlates the call with its OS presentation.
	CallID uuid.UUID
}

// Call is a live SDK call.
type Call interface {
	SID() string
	State() State
	Mute(muted bool)
	IsMuted() bool
	SendDigits(digits string)
	Disconnect()
}

// Listener receives SDK lifecycle callbacks, possibly on SDK goroutines.
type Listener interface {
	OnRinging(c Call)
	OnConnected(c Call)
	OnConnectFailure(c Call, err error)
	OnReconnecting(c Call, err error)
	OnReconnected(c Call)
	// OnDisconnected carries a nil err for a normal hang-up.
	OnDisconnected(c Call, err error)
}

// Client starts calls. Connect must not block on the network; progress is
// reported through the listener.
type Client interface {
	Connect(opts ConnectOptions, l Listener) (Call, error)
}

// CallError is a failure reported by the backend, e.g. a SIP final response.
type CallError struct {
	Code    int
	Message string
}

func (e *CallError) Error() string {
	if e.Code == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}
