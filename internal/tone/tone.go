// Package tone generates the PCM buffers used for call progress feedback.
package tone

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultSampleRate is the rate every feedback tone is rendered at.
const DefaultSampleRate = 44100

// MaxAmplitude is the peak value of a synthesized 16-bit sample.
const MaxAmplitude = math.MaxInt16

// ErrInvalidToneParameters is returned for a non-positive duration or sample rate.
var ErrInvalidToneParameters = errors.New("invalid tone parameters")

// SampleCount returns the number of samples covering dur at sampleRate.
func SampleCount(dur time.Duration, sampleRate int) (int, error) {
	if dur <= 0 || sampleRate <= 0 {
		return 0, fmt.Errorf("%w: duration %v, sample rate %d", ErrInvalidToneParameters, dur, sampleRate)
	}
	return int(int64(dur) * int64(sampleRate) / int64(time.Second)), nil
}

// Synthesize returns a full-scale sine wave at freqHz lasting dur.
func Synthesize(freqHz float64, dur time.Duration, sampleRate int) ([]int16, error) {
	n, err := SampleCount(dur, sampleRate)
	if err != nil {
		return nil, err
	}
	samples := make([]int16, n)
	step := 2 * math.Pi * freqHz / float64(sampleRate)
	for i := range samples {
		samples[i] = int16(math.Round(math.Sin(step*float64(i)) * MaxAmplitude))
	}
	return samples, nil
}

// Silence returns a zero-filled buffer lasting dur.
func Silence(dur time.Duration, sampleRate int) ([]int16, error) {
	n, err := SampleCount(dur, sampleRate)
	if err != nil {
		return nil, err
	}
	return make([]int16, n), nil
}
