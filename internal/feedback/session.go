package feedback

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/voip-mqtt/internal/tone"
)

// session is one playing pattern. The worker goroutine owns the write
// position; the only state shared with the main sequence is the playing
// flag and the done channel.
type session struct {
	kind    Kind
	pattern tone.Pattern
	buffers [][]int16
	track   Track

	playing     atomic.Bool
	draining    atomic.Bool
	done        chan struct{}
	releaseOnce sync.Once
	releaseErr  error
}

func newSession(kind Kind, pattern tone.Pattern, buffers [][]int16, track Track) *session {
	s := &session{
		kind:    kind,
		pattern: pattern,
		buffers: buffers,
		track:   track,
		done:    make(chan struct{}),
	}
	s.playing.Store(true)
	return s
}

// run writes the pattern frame by frame, checking the playing flag between
// frames so a stop takes effect within one frame.
func (s *session) run(frame int, log *logrus.Entry) {
	defer close(s.done)
	defer s.release()
	defer s.playing.Store(false)

	if frame <= 0 {
		frame = 1
	}
	phase := 0
	for {
		if phase == len(s.buffers) {
			if !s.pattern.Loop {
				if d, ok := s.track.(Drainer); ok {
					// flag first so a concurrent stop either skips the
					// drain or sees it and closes the track
					s.draining.Store(true)
					if s.playing.Load() {
						d.Drain()
					}
				}
				return
			}
			phase = 0
		}
		buf := s.buffers[phase]
		for off := 0; off < len(buf); off += frame {
			if !s.playing.Load() {
				return
			}
			end := min(off+frame, len(buf))
			if err := s.track.Write(buf[off:end]); err != nil {
				if s.playing.Load() {
					log.WithError(err).WithField("phase", phase).Error("writing feedback tone")
				}
				return
			}
		}
		phase++
	}
}

// stop signals the worker and waits up to timeout for it to exit.
func (s *session) stop(timeout time.Duration) bool {
	s.playing.Store(false)
	if s.draining.Load() {
		// closing the track is what interrupts a drain
		s.release()
	}
	select {
	case <-s.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *session) release() error {
	s.releaseOnce.Do(func() {
		s.releaseErr = s.track.Close()
	})
	return s.releaseErr
}
