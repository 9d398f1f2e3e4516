package tone

import (
	"fmt"
	"time"
)

// Segment is one tone or pause in a pattern. A zero Freq is silence.
type Segment struct {
	Freq float64
	Dur  time.Duration
}

// Silent reports whether the segment is a pause.
func (s Segment) Silent() bool {
	return s.Freq == 0
}

// Pattern is an ordered sequence of segments, optionally repeated forever.
type Pattern struct {
	Name     string
	Segments []Segment
	Loop     bool
}

// GSM call progress tones, 425 Hz.
var (
	// Ringback is 1 s of tone followed by 3 s of silence, repeating.
	Ringback = Pattern{
		Name: "ringback",
		Segments: []Segment{
			{Freq: 425, Dur: time.Second},
			{Dur: 3 * time.Second},
		},
		Loop: true,
	}

	// Busy is three 200 ms beeps separated by 100 ms pauses, played once.
	Busy = Pattern{
		Name: "busy",
		Segments: []Segment{
			{Freq: 425, Dur: 200 * time.Millisecond},
			{Dur: 100 * time.Millisecond},
			{Freq: 425, Dur: 200 * time.Millisecond},
			{Dur: 100 * time.Millisecond},
			{Freq: 425, Dur: 200 * time.Millisecond},
		},
	}
)

// Duration returns the length of one pass through the pattern.
func (p Pattern) Duration() time.Duration {
	var d time.Duration
	for _, s := range p.Segments {
		d += s.Dur
	}
	return d
}

// Render synthesizes one buffer per segment. Identical segments share a buffer,
// so the busy pattern allocates one beep and one pause.
func (p Pattern) Render(sampleRate int) ([][]int16, error) {
	cache := make(map[Segment][]int16, len(p.Segments))
	out := make([][]int16, len(p.Segments))
	for i, seg := range p.Segments {
		if buf, ok := cache[seg]; ok {
			out[i] = buf
			continue
		}
		var (
			buf []int16
			err error
		)
		if seg.Silent() {
			buf, err = Silence(seg.Dur, sampleRate)
		} else {
			buf, err = Synthesize(seg.Freq, seg.Dur, sampleRate)
		}
		if err != nil {
			return nil, fmt.Errorf("rendering %s segment %d: %w", p.Name, i, err)
		}
		cache[seg] = buf
		out[i] = buf
	}
	return out, nil
}
