// Package route switches call audio between earpiece and speaker and
// reconciles route changes the OS or the user make behind our back.
package route

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/voip-mqtt/internal/loop"
)

// Observer is told about route changes that did not come from SetSpeaker.
// All methods run on the main sequence.
type Observer interface {
	CallActive() bool
	SpeakerBelief() bool
	SpeakerRouteChanged(on bool)
}

// Options tunes a Controller. Zero values take the defaults.
type Options struct {
	SuppressWindow time.Duration
	RetryDelays    []time.Duration
	Log            *logrus.Entry
}

const DefaultSuppressWindow = 200 * time.Millisecond

// DefaultRetryDelays are the increasing delays between route re-checks.
var DefaultRetryDelays = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}

// Controller drives an audio manager. It must only be used from the main
// sequence.
type Controller struct {
	dev   Speakerphone
	sched loop.Scheduler
	obs   Observer
	opts  Options
	log   *logrus.Entry

	suppressed    bool
	suppressTimer loop.Timer
	retryTimer    loop.Timer
	cancelWatch   func()
}

// New creates a Controller for dev.
func New(dev Speakerphone, sched loop.Scheduler, obs Observer, opts Options) *Controller {
	if opts.SuppressWindow <= 0 {
		opts.SuppressWindow = DefaultSuppressWindow
	}
	if len(opts.RetryDelays) == 0 {
		opts.RetryDelays = DefaultRetryDelays
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Controller{
		dev:   dev,
		sched: sched,
		obs:   obs,
		opts:  opts,
		log:   log.WithField("component", "route"),
	}
}

// Start subscribes to route-change notifications if the device offers them.
func (c *Controller) Start() {
	w, ok := c.dev.(RouteWatcher)
	if !ok || c.cancelWatch != nil {
		return
	}
	c.cancelWatch = w.WatchRoute(func(r Reason) {
		c.sched.Post(func() { c.HandleRouteChange(r) })
	})
}

// Close unsubscribes and cancels pending checks.
func (c *Controller) Close() {
	if c.cancelWatch != nil {
		c.cancelWatch()
		c.cancelWatch = nil
	}
	c.stopTimer(&c.retryTimer)
	c.stopTimer(&c.suppressTimer)
	c.suppressed = false
}

// SetSpeaker routes voice to the loudspeaker or back to the earpiece.
// Failures are logged; routing is best-effort.
func (c *Controller) SetSpeaker(on bool) {
	c.suppress()

	log := c.log.WithField("speaker", on)
	if r, ok := c.dev.(DeviceRouter); ok {
		var err error
		if speaker, found := findSpeaker(r.Outputs()); on && found {
			err = r.SetCommunicationDevice(speaker)
		} else {
			if on {
				log.Warn("no built-in speaker output, clearing communication device")
			}
			err = r.ClearCommunicationDevice()
		}
		if err != nil {
			log.WithError(err).Error("setting communication device")
		}
		return
	}
	if err := c.dev.SetSpeakerphoneOn(on); err != nil {
		log.WithError(err).Error("setting speakerphone")
	}
}

// SpeakerActive asks the device whether voice currently goes to the speaker.
func (c *Controller) SpeakerActive() bool {
	if r, ok := c.dev.(DeviceRouter); ok {
		dev, ok := r.CommunicationDevice()
		return ok && dev.Type == DeviceBuiltinSpeaker
	}
	return c.dev.SpeakerphoneOn()
}

// Suppressed reports whether route notifications are currently ignored
// because we changed the route ourselves.
func (c *Controller) Suppressed() bool {
	return c.suppressed
}

// HandleRouteChange reacts to an OS route-change notification.
func (c *Controller) HandleRouteChange(reason Reason) {
	log := c.log.WithField("reason", reason)
	if c.suppressed || !c.obs.CallActive() {
		log.Debug("route change ignored")
		return
	}
	if !reason.UserInitiated() {
		log.Debug("route change not user initiated")
		return
	}
	c.stopTimer(&c.retryTimer)
	c.check(reason, 0)
}

// check re-queries the route after the attempt's delay. Route settling is
// asynchronous, so an unchanged answer is retried until the delays run out.
func (c *Controller) check(reason Reason, attempt int) {
	c.retryTimer = c.sched.After(c.opts.RetryDelays[attempt], func() {
		c.retryTimer = nil
		if !c.obs.CallActive() {
			return
		}
		active := c.SpeakerActive()
		log := c.log.WithFields(logrus.Fields{
			"reason":  reason,
			"attempt": attempt + 1,
			"speaker": active,
		})
		if active != c.obs.SpeakerBelief() {
			log.Info("external route change")
			c.obs.SpeakerRouteChanged(active)
			return
		}
		if attempt+1 < len(c.opts.RetryDelays) {
			c.check(reason, attempt+1)
			return
		}
		log.Debug("route unchanged after retries")
	})
}

func (c *Controller) suppress() {
	c.suppressed = true
	c.stopTimer(&c.suppressTimer)
	c.suppressTimer = c.sched.After(c.opts.SuppressWindow, func() {
		c.suppressTimer = nil
		c.suppressed = false
	})
}

func (c *Controller) stopTimer(t *loop.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func findSpeaker(outputs []OutputDevice) (OutputDevice, bool) {
	for _, d := range outputs {
		if d.Type == DeviceBuiltinSpeaker {
			return d, true
		}
	}
	return OutputDevice{}, false
}
