// Package device provides virtual OS devices for headless hosts: an audio
// manager whose route can be changed from outside, a proximity sensor fed
// with samples, a timed wake lock, and tone outputs.
package device

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/voip-mqtt/internal/feedback"
	"github.com/sweeney/voip-mqtt/internal/route"
)

var (
	_ route.DeviceRouter  = (*AudioManager)(nil)
	_ route.RouteWatcher  = (*AudioManager)(nil)
	_ feedback.ModeSetter = (*AudioManager)(nil)
	_ route.Speakerphone  = legacyAudio{}
)

// Built-in outputs of the virtual audio manager.
var (
	Earpiece = route.OutputDevice{ID: 1, Type: route.DeviceBuiltinEarpiece, Name: "earpiece"}
	Speaker  = route.OutputDevice{ID: 2, Type: route.DeviceBuiltinSpeaker, Name: "speaker"}
)

var errUnknownOutput = errors.New("unknown output device")

// AudioManager is a virtual audio manager with explicit output enumeration.
// It is safe for concurrent use.
type AudioManager struct {
	mu            sync.Mutex
	outputs       []route.OutputDevice
	current       *route.OutputDevice
	communication bool
	watchers      map[int]func(route.Reason)
	nextWatcher   int
	log           *logrus.Entry
}

// NewAudioManager creates an AudioManager offering the earpiece and the
// loudspeaker.
func NewAudioManager(log *logrus.Entry) *AudioManager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &AudioManager{
		outputs:  []route.OutputDevice{Earpiece, Speaker},
		watchers: make(map[int]func(route.Reason)),
		log:      log.WithField("component", "audio"),
	}
}

func (a *AudioManager) Outputs() []route.OutputDevice {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]route.OutputDevice(nil), a.outputs...)
}

func (a *AudioManager) SetCommunicationDevice(dev route.OutputDevice) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, o := range a.outputs {
		if o == dev {
			a.current = &o
			a.log.WithField("output", o.Name).Debug("communication device set")
			return nil
		}
	}
	return errUnknownOutput
}

func (a *AudioManager) ClearCommunicationDevice() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = nil
	a.log.Debug("communication device cleared")
	return nil
}

func (a *AudioManager) CommunicationDevice() (route.OutputDevice, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return route.OutputDevice{}, false
	}
	return *a.current, true
}

// SetSpeakerphoneOn is the flag-style routing API.
func (a *AudioManager) SetSpeakerphoneOn(on bool) error {
	if on {
		return a.SetCommunicationDevice(Speaker)
	}
	return a.ClearCommunicationDevice()
}

func (a *AudioManager) SpeakerphoneOn() bool {
	dev, ok := a.CommunicationDevice()
	return ok && dev.Type == route.DeviceBuiltinSpeaker
}

func (a *AudioManager) WatchRoute(fn func(route.Reason)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextWatcher
	a.nextWatcher++
	a.watchers[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.watchers, id)
	}
}

func (a *AudioManager) SetCommunicationMode(on bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.communication = on
	return nil
}

// CommunicationMode reports whether the device is in voice-call mode.
func (a *AudioManager) CommunicationMode() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.communication
}

// External changes the route the way another app or the native call screen
// would, then notifies watchers with reason.
func (a *AudioManager) External(reason route.Reason, speaker bool) {
	var err error
	if speaker {
		err = a.SetCommunicationDevice(Speaker)
	} else {
		err = a.ClearCommunicationDevice()
	}
	if err != nil {
		a.log.WithError(err).Error("external route change")
		return
	}

	a.mu.Lock()
	fns := make([]func(route.Reason), 0, len(a.watchers))
	for _, fn := range a.watchers {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	a.log.WithFields(logrus.Fields{"reason": reason, "speaker": speaker}).Info("route changed externally")
	for _, fn := range fns {
		fn(reason)
	}
}

// Legacy returns a view of the manager that only offers the speakerphone
// flag, for hosts without output enumeration.
func (a *AudioManager) Legacy() route.Speakerphone {
	return legacyAudio{a}
}

type legacyAudio struct {
	a *AudioManager
}

func (l legacyAudio) SetSpeakerphoneOn(on bool) error         { return l.a.SetSpeakerphoneOn(on) }
func (l legacyAudio) SpeakerphoneOn() bool                    { return l.a.SpeakerphoneOn() }
func (l legacyAudio) SetCommunicationMode(on bool) error      { return l.a.SetCommunicationMode(on) }
func (l legacyAudio) WatchRoute(fn func(route.Reason)) func() { return l.a.WatchRoute(fn) }
