// Package proximity blanks the screen while the handset is held to the ear.
package proximity

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/voip-mqtt/internal/loop"
)

// Sensor is a hardware proximity sensor. The registered callback may run on
// any goroutine.
type Sensor interface {
	MaximumRange() float64
	Register(fn func(distance float64)) error
	Unregister()
}

// WakeLock is a screen-off hold. Acquire must auto-release after timeout.
type WakeLock interface {
	Acquire(timeout time.Duration) error
	Release() error
	Held() bool
}

// SpeakerState reports whether call audio currently goes to the speaker.
type SpeakerState interface {
	SpeakerOn() bool
}

// DefaultHoldTimeout bounds a screen-off hold in case a release is missed.
const DefaultHoldTimeout = 10 * time.Minute

// Guard toggles the wake lock from sensor samples. It must only be used
// from the main sequence.
type Guard struct {
	sensor  Sensor
	lock    WakeLock
	speaker SpeakerState
	sched   loop.Scheduler
	hold    time.Duration
	log     *logrus.Entry

	active bool
	// gen discards samples delivered after the sensor was unregistered.
	gen int
}

// NewGuard creates a Guard. A nil sensor means the hardware is absent and
// the guard never activates.
func NewGuard(sensor Sensor, lock WakeLock, speaker SpeakerState, sched loop.Scheduler, hold time.Duration, log *logrus.Entry) *Guard {
	if hold <= 0 {
		hold = DefaultHoldTimeout
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Guard{
		sensor:  sensor,
		lock:    lock,
		speaker: speaker,
		sched:   sched,
		hold:    hold,
		log:     log.WithField("component", "proximity"),
	}
}

// Start subscribes to the sensor unless the speaker is on, the hardware is
// missing or the guard is already active.
func (g *Guard) Start() {
	if g.active {
		return
	}
	if g.speaker.SpeakerOn() {
		g.log.Debug("not started, speaker is on")
		return
	}
	if g.sensor == nil {
		g.log.Debug("no proximity sensor")
		return
	}
	g.gen++
	gen := g.gen
	err := g.sensor.Register(func(distance float64) {
		g.sched.Post(func() { g.sample(gen, distance) })
	})
	if err != nil {
		g.log.WithError(err).Error("registering proximity sensor")
		return
	}
	g.active = true
	g.log.Debug("proximity guard active")
}

// Stop unsubscribes and turns the screen back on.
func (g *Guard) Stop() {
	if !g.active {
		return
	}
	g.sensor.Unregister()
	g.active = false
	g.gen++
	g.screenOn()
	g.log.Debug("proximity guard inactive")
}

// Active reports whether the guard is listening to the sensor.
func (g *Guard) Active() bool {
	return g.active
}

func (g *Guard) sample(gen int, distance float64) {
	if !g.active || gen != g.gen {
		return
	}
	if distance < g.sensor.MaximumRange() {
		g.screenOff()
	} else {
		g.screenOn()
	}
}

func (g *Guard) screenOff() {
	if g.lock.Held() {
		return
	}
	if err := g.lock.Acquire(g.hold); err != nil {
		g.log.WithError(err).Error("acquiring proximity wake lock")
	}
}

func (g *Guard) screenOn() {
	if !g.lock.Held() {
		return
	}
	if err := g.lock.Release(); err != nil {
		g.log.WithError(err).Error("releasing proximity wake lock")
	}
}
