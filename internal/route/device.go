package route

import "strings"

// Speakerphone is the minimal routing surface every audio manager offers:
// a single speaker on/off flag.
type Speakerphone interface {
	SetSpeakerphoneOn(on bool) error
	SpeakerphoneOn() bool
}

// DeviceType classifies an output device.
type DeviceType int

const (
	DeviceUnknown DeviceType = iota
	DeviceBuiltinEarpiece
	DeviceBuiltinSpeaker
	DeviceWiredHeadset
	DeviceBluetooth
)

// OutputDevice is one enumerated audio output.
type OutputDevice struct {
	ID   int
	Type DeviceType
	Name string
}

// DeviceRouter is implemented by audio managers that enumerate outputs and
// route voice to an explicit communication device. When available it is
// preferred over the speakerphone flag.
type DeviceRouter interface {
	Outputs() []OutputDevice
	SetCommunicationDevice(dev OutputDevice) error
	ClearCommunicationDevice() error
	CommunicationDevice() (OutputDevice, bool)
}

// RouteWatcher is implemented by audio managers that report route changes.
// The callback may run on any goroutine.
type RouteWatcher interface {
	WatchRoute(fn func(Reason)) (cancel func())
}

// Reason explains why the OS changed the audio route.
type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonNewDeviceAvailable
	ReasonOldDeviceUnavailable
	ReasonCategoryChange
	ReasonOverride
	ReasonWakeFromSleep
	ReasonNoSuitableRoute
	ReasonConfigurationChange
)

var reasonNames = map[Reason]string{
	ReasonUnknown:              "unknown",
	ReasonNewDeviceAvailable:   "newDeviceAvailable",
	ReasonOldDeviceUnavailable: "oldDeviceUnavailable",
	ReasonCategoryChange:       "categoryChange",
	ReasonOverride:             "override",
	ReasonWakeFromSleep:        "wakeFromSleep",
	ReasonNoSuitableRoute:      "noSuitableRoute",
	ReasonConfigurationChange:  "configurationChange",
}

func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return "unknown"
}

// ParseReason maps a reason name (case-insensitive) to a Reason.
func ParseReason(s string) Reason {
	for r, name := range reasonNames {
		if strings.EqualFold(name, s) {
			return r
		}
	}
	return ReasonUnknown
}

// UserInitiated reports whether the change may come from the user, e.g. a
// speaker button on the native call screen or plugging in a headset.
func (r Reason) UserInitiated() bool {
	switch r {
	case ReasonOverride, ReasonNewDeviceAvailable, ReasonOldDeviceUnavailable, ReasonCategoryChange:
		return true
	default:
		return false
	}
}
