// Package presentation shows the ongoing call to the OS: a foreground
// notification with call actions on headless hosts, a native call screen
// elsewhere.
package presentation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EndReason says why a presentation was torn down.
type EndReason int

const (
	EndLocal EndReason = iota
	EndRemote
	EndFailed
	EndDeclined
)

func (r EndReason) String() string {
	switch r {
	case EndLocal:
		return "local"
	case EndRemote:
		return "remote"
	case EndFailed:
		return "failed"
	case EndDeclined:
		return "declined"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Info is what the presentation shows.
type Info struct {
	CallID  uuid.UUID
	Contact string
	Muted   bool
	// SpeakerOn selects the speaker action label.
	SpeakerOn bool
	// ConnectedAt is zero until the call connects; once set the
	// presentation runs a call timer from it.
	ConnectedAt time.Time
}

// Connected reports whether the call timer should run.
func (i Info) Connected() bool {
	return !i.ConnectedAt.IsZero()
}

// Presenter registers, updates and tears down the OS call presentation.
// All methods are called from the main sequence.
type Presenter interface {
	// Start registers the presentation. A returned error means the OS
	// refused it and the call must not proceed.
	Start(info Info) error
	Update(info Info)
	End(reason EndReason)
}
