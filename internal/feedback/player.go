// Package feedback plays the ringback and busy tones on a dedicated audio
// track, separate from the call's own media path.
package feedback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/voip-mqtt/internal/tone"
)

// Kind identifies a feedback tone.
type Kind int

const (
	Ringback Kind = iota
	Busy
)

func (k Kind) String() string {
	switch k {
	case Ringback:
		return "ringback"
	case Busy:
		return "busy"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) pattern() tone.Pattern {
	if k == Busy {
		return tone.Busy
	}
	return tone.Ringback
}

// ErrResource marks a failure to claim or drive the audio device. Feedback
// tones are cosmetic, so these are logged and never returned to callers.
var ErrResource = errors.New("audio resource unavailable")

// Track is a claimed mono 16-bit output stream. Write blocks roughly for
// the playback time of the samples it is given.
type Track interface {
	Write(samples []int16) error
	Close() error
}

// Drainer is implemented by tracks that buffer ahead of the speaker. Drain
// blocks until the buffered audio has played out or the track is closed.
type Drainer interface {
	Drain()
}

// Output claims tracks on an audio device.
type Output interface {
	Open(sampleRate int) (Track, error)
}

// ModeSetter switches the audio device between voice-call and normal mode.
type ModeSetter interface {
	SetCommunicationMode(on bool) error
}

// Options tunes a Player. Zero values take the defaults.
type Options struct {
	SampleRate          int
	Frame               time.Duration
	RingbackStopTimeout time.Duration
	BusyStopTimeout     time.Duration
	Mode                ModeSetter
	Log                 *logrus.Entry
}

// Defaults for Options.
const (
	DefaultFrame               = 20 * time.Millisecond
	DefaultRingbackStopTimeout = 500 * time.Millisecond
	DefaultBusyStopTimeout     = 300 * time.Millisecond
)

// Player owns at most one ringback and one busy session, and never lets
// both produce audio at once.
type Player struct {
	out  Output
	opts Options
	log  *logrus.Entry

	mu       sync.Mutex
	sessions [2]*session

	// modeMu orders mode switches from the main sequence and the workers.
	modeMu        sync.Mutex
	communication bool
}

// NewPlayer creates a Player writing to out.
func NewPlayer(out Output, opts Options) *Player {
	if opts.SampleRate <= 0 {
		opts.SampleRate = tone.DefaultSampleRate
	}
	if opts.Frame <= 0 {
		opts.Frame = DefaultFrame
	}
	if opts.RingbackStopTimeout <= 0 {
		opts.RingbackStopTimeout = DefaultRingbackStopTimeout
	}
	if opts.BusyStopTimeout <= 0 {
		opts.BusyStopTimeout = DefaultBusyStopTimeout
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Player{
		out:  out,
		opts: opts,
		log:  log.WithField("component", "feedback"),
	}
}

// StartRingback plays the ringback pattern until StopRingback. Calling it
// while a ringback is playing restarts it.
func (p *Player) StartRingback() {
	p.start(Ringback)
}

// StopRingback stops the ringback tone. It is a no-op when none is playing.
func (p *Player) StopRingback() {
	p.stop(Ringback)
}

// PlayBusyTone plays the three-beep busy pattern once.
func (p *Player) PlayBusyTone() {
	p.start(Busy)
}

// StopBusyTone cuts the busy tone short.
func (p *Player) StopBusyTone() {
	p.stop(Busy)
}

// Stop stops every session.
func (p *Player) Stop() {
	p.stop(Ringback)
	p.stop(Busy)
}

// Playing reports whether a session of kind is producing audio.
func (p *Player) Playing(kind Kind) bool {
	p.mu.Lock()
	s := p.sessions[kind]
	p.mu.Unlock()
	return s != nil && s.playing.Load()
}

func (p *Player) start(kind Kind) {
	p.Stop()

	log := p.log.WithField("kind", kind)
	pattern := kind.pattern()
	buffers, err := pattern.Render(p.opts.SampleRate)
	if err != nil {
		log.WithError(fmt.Errorf("%w: %v", ErrResource, err)).Error("building tone buffers")
		return
	}
	track, err := p.out.Open(p.opts.SampleRate)
	if err != nil {
		log.WithError(fmt.Errorf("%w: %v", ErrResource, err)).Error("claiming audio track")
		return
	}

	s := newSession(kind, pattern, buffers, track)
	p.mu.Lock()
	p.sessions[kind] = s
	p.mu.Unlock()
	p.syncMode()

	frame := int(int64(p.opts.SampleRate) * int64(p.opts.Frame) / int64(time.Second))
	go func() {
		s.run(frame, log)
		p.finished(s)
	}()
	log.WithField("duration", pattern.Duration()).Debug("feedback tone started")
}

func (p *Player) stop(kind Kind) {
	p.mu.Lock()
	s := p.sessions[kind]
	p.sessions[kind] = nil
	p.mu.Unlock()
	if s == nil {
		return
	}

	timeout := p.opts.RingbackStopTimeout
	if kind == Busy {
		timeout = p.opts.BusyStopTimeout
	}
	log := p.log.WithField("kind", kind)
	if !s.stop(timeout) {
		log.WithField("timeout", timeout).Warn("feedback worker did not exit in time")
	}
	if err := s.release(); err != nil {
		log.WithError(err).Warn("releasing audio track")
	}
	p.syncMode()
	log.Debug("feedback tone stopped")
}

// finished runs on the worker goroutine once a session ends by itself.
func (p *Player) finished(s *session) {
	p.mu.Lock()
	if p.sessions[s.kind] != s {
		p.mu.Unlock()
		return
	}
	p.sessions[s.kind] = nil
	p.mu.Unlock()
	p.syncMode()
}

// syncMode puts the device in communication mode while any session is
// registered and back to normal once none is. The session set is read
// under modeMu, so the last switch always reflects the latest set.
func (p *Player) syncMode() {
	if p.opts.Mode == nil {
		return
	}
	p.modeMu.Lock()
	defer p.modeMu.Unlock()

	p.mu.Lock()
	want := p.sessions[Ringback] != nil || p.sessions[Busy] != nil
	p.mu.Unlock()
	if want == p.communication {
		return
	}
	if err := p.opts.Mode.SetCommunicationMode(want); err != nil {
		p.log.WithError(err).WithField("communication", want).Warn("setting audio mode")
		return
	}
	p.communication = want
}
