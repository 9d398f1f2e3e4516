package device

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/voip-mqtt/internal/proximity"
)

var (
	_ proximity.Sensor   = (*ProximitySensor)(nil)
	_ proximity.WakeLock = (*WakeLock)(nil)
)

// DefaultProximityRange is the range of the virtual sensor in centimetres.
const DefaultProximityRange = 5.0

var errSensorInUse = errors.New("proximity sensor already registered")

// ProximitySensor is a virtual sensor whose samples come from Feed.
type ProximitySensor struct {
	mu       sync.Mutex
	maxRange float64
	fn       func(float64)
}

// NewProximitySensor creates a sensor with the given maximum range.
func NewProximitySensor(maxRange float64) *ProximitySensor {
	if maxRange <= 0 {
		maxRange = DefaultProximityRange
	}
	return &ProximitySensor{maxRange: maxRange}
}

func (s *ProximitySensor) MaximumRange() float64 {
	return s.maxRange
}

func (s *ProximitySensor) Register(fn func(distance float64)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fn != nil {
		return errSensorInUse
	}
	s.fn = fn
	return nil
}

func (s *ProximitySensor) Unregister() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = nil
}

// Feed delivers a sample. It reports whether anyone was listening.
func (s *ProximitySensor) Feed(distance float64) bool {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(distance)
	return true
}

// WakeLock is a screen-off hold that releases itself after its timeout.
type WakeLock struct {
	mu    sync.Mutex
	held  bool
	timer *time.Timer
	log   *logrus.Entry
}

// NewWakeLock creates a released WakeLock.
func NewWakeLock(log *logrus.Entry) *WakeLock {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &WakeLock{log: log.WithField("component", "wakelock")}
}

func (w *WakeLock) Acquire(timeout time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.held = true
	var t *time.Timer
	t = time.AfterFunc(timeout, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.timer != t {
			return
		}
		w.held = false
		w.timer = nil
		w.log.WithField("timeout", timeout).Warn("wake lock expired")
	})
	w.timer = t
	w.log.Debug("screen off")
	return nil
}

func (w *WakeLock) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if w.held {
		w.log.Debug("screen on")
	}
	w.held = false
	return nil
}

func (w *WakeLock) Held() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.held
}
