package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/sweeney/voip-mqtt/internal/feedback"
)

var (
	_ feedback.Output  = (*OtoOutput)(nil)
	_ feedback.Output  = NullOutput{}
	_ feedback.Drainer = (*otoTrack)(nil)
)

// OtoOutput plays feedback tones on the host sound card. oto allows one
// context per process, so a single OtoOutput serves every track.
type OtoOutput struct {
	ctx        *oto.Context
	sampleRate int
}

// NewOtoOutput opens the sound card for mono 16-bit audio at sampleRate.
func NewOtoOutput(sampleRate int) (*OtoOutput, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   50 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("opening audio device: %w", err)
	}
	<-ready
	return &OtoOutput{ctx: ctx, sampleRate: sampleRate}, nil
}

func (o *OtoOutput) Open(sampleRate int) (feedback.Track, error) {
	if sampleRate != o.sampleRate {
		return nil, fmt.Errorf("sample rate %d, device runs at %d", sampleRate, o.sampleRate)
	}
	pr, pw := io.Pipe()
	p := o.ctx.NewPlayer(pr)
	// keep the player's read-ahead to a few frames so Write paces playback
	p.SetBufferSize(sampleRate / 10 * 2)
	p.Play()
	return &otoTrack{player: p, pipe: pw, closed: make(chan struct{})}, nil
}

// drainLimit bounds how long Drain waits for the player's read-ahead.
const drainLimit = 500 * time.Millisecond

type otoTrack struct {
	player *oto.Player
	pipe   *io.PipeWriter
	buf    []byte
	once   sync.Once
	closed chan struct{}
}

func (t *otoTrack) Write(samples []int16) error {
	if cap(t.buf) < 2*len(samples) {
		t.buf = make([]byte, 2*len(samples))
	}
	b := t.buf[:2*len(samples)]
	encodePCM(b, samples)
	_, err := t.pipe.Write(b)
	return err
}

// Drain ends the stream and lets the player finish what it already read.
func (t *otoTrack) Drain() {
	if err := t.pipe.Close(); err != nil {
		return
	}
	waitDrained(t.player.IsPlaying, t.closed, 5*time.Millisecond, drainLimit)
}

func (t *otoTrack) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closed)
		err = errors.Join(t.pipe.Close(), t.player.Close())
	})
	return err
}

// waitDrained polls playing until it reports false, closed fires or limit
// passes. It reports whether playback finished.
func waitDrained(playing func() bool, closed <-chan struct{}, poll, limit time.Duration) bool {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	deadline := time.NewTimer(limit)
	defer deadline.Stop()
	for playing() {
		select {
		case <-ticker.C:
		case <-closed:
			return false
		case <-deadline.C:
			return false
		}
	}
	return true
}

func encodePCM(dst []byte, samples []int16) {
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(s))
	}
}

// EncodePCM returns samples as signed 16-bit little-endian bytes.
func EncodePCM(samples []int16) []byte {
	b := make([]byte, 2*len(samples))
	encodePCM(b, samples)
	return b
}

// NullOutput discards tones but consumes them in real time, for hosts
// without a sound card.
type NullOutput struct{}

func (NullOutput) Open(sampleRate int) (feedback.Track, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	return &nullTrack{rate: sampleRate, closed: make(chan struct{})}, nil
}

type nullTrack struct {
	rate   int
	closed chan struct{}
	once   sync.Once
}

var errClosed = errors.New("track closed")

func (t *nullTrack) Write(samples []int16) error {
	d := time.Duration(len(samples)) * time.Second / time.Duration(t.rate)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-t.closed:
		return errClosed
	}
}

func (t *nullTrack) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}
