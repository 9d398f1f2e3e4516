package feedback

import (
	"errors"
	"sync"
	"time"
)

var errTrackClosed = errors.New("track closed")

// MockOutput hands out MockTracks and records them for test assertions.
type MockOutput struct {
	mu     sync.Mutex
	tracks []*MockTrack
	err    error

	// Pace is slept after every Write to mimic a real device draining.
	Pace time.Duration
	// Limit caps the samples each track records. Zero records everything.
	Limit int
}

// NewMockOutput creates a MockOutput.
func NewMockOutput() *MockOutput {
	return &MockOutput{}
}

func (m *MockOutput) Open(sampleRate int) (Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	t := &MockTrack{sampleRate: sampleRate, pace: m.Pace, limit: m.Limit}
	m.tracks = append(m.tracks, t)
	return t, nil
}

// SetError causes subsequent Open calls to fail with err. Pass nil to clear.
func (m *MockOutput) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Tracks returns every track opened so far.
func (m *MockOutput) Tracks() []*MockTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockTrack, len(m.tracks))
	copy(out, m.tracks)
	return out
}

// MockTrack records written samples.
type MockTrack struct {
	mu         sync.Mutex
	sampleRate int
	pace       time.Duration
	limit      int
	samples    []int16
	writes     int
	drained    bool
	closed     bool
}

func (t *MockTrack) Write(samples []int16) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errTrackClosed
	}
	t.writes++
	keep := samples
	if t.limit > 0 {
		room := t.limit - len(t.samples)
		if room < 0 {
			room = 0
		}
		if len(keep) > room {
			keep = keep[:room]
		}
	}
	t.samples = append(t.samples, keep...)
	pace := t.pace
	t.mu.Unlock()

	if pace > 0 {
		time.Sleep(pace)
	}
	return nil
}

func (t *MockTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *MockTrack) Drain() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.drained = true
}

// Drained reports whether the track was drained before closing.
func (t *MockTrack) Drained() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.drained
}

// Samples returns a copy of the recorded samples.
func (t *MockTrack) Samples() []int16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int16, len(t.samples))
	copy(out, t.samples)
	return out
}

// Writes returns the number of Write calls.
func (t *MockTrack) Writes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writes
}

// Closed reports whether Close was called.
func (t *MockTrack) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// SampleRate returns the rate the track was opened with.
func (t *MockTrack) SampleRate() int {
	return t.sampleRate
}

// MockMode records audio mode switches.
type MockMode struct {
	mu      sync.Mutex
	history []bool
}

func (m *MockMode) SetCommunicationMode(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, on)
	return nil
}

// Communication reports the last mode set.
func (m *MockMode) Communication() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history) > 0 && m.history[len(m.history)-1]
}

// History returns every mode set, oldest first.
func (m *MockMode) History() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]bool, len(m.history))
	copy(out, m.history)
	return out
}
