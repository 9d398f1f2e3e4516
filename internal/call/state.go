package call

import "fmt"

// State is the handler's view of the current call.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateRinging
	StateConnected
	// StateDisconnecting is a locally hung-up call whose SDK disconnect
	// has not been confirmed yet.
	StateDisconnecting
	StateEnded
)

var stateNames = map[State]string{
	StateIdle:          "idle",
	StateConnecting:    "connecting",
	StateRinging:       "ringing",
	StateConnected:     "connected",
	StateDisconnecting: "disconnecting",
	StateEnded:         "ended",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Event is an outward notification to the application.
type Event string

const (
	EventRinging    Event = "ringing"
	EventConnected  Event = "connected"
	EventMute       Event = "mute"
	EventUnmute     Event = "unmute"
	EventSpeakerOn  Event = "speakerOn"
	EventSpeakerOff Event = "speakerOff"
	EventDeclined   Event = "declined"
	EventCallEnded  Event = "callEnded"
)

// Terminal reports whether e ends a call lifecycle.
func (e Event) Terminal() bool {
	return e == EventDeclined || e == EventCallEnded
}

// EventSink delivers events to the application in emission order. Emit is
// called from the main sequence and must not block.
type EventSink interface {
	Emit(e Event)
}

func muteEvent(muted bool) Event {
	if muted {
		return EventMute
	}
	return EventUnmute
}

func speakerEvent(on bool) Event {
	if on {
		return EventSpeakerOn
	}
	return EventSpeakerOff
}
