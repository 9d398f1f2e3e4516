// Command tonegen renders the call progress tones to raw PCM files or
// plays them on the sound card.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sweeney/voip-mqtt/internal/device"
	"github.com/sweeney/voip-mqtt/internal/feedback"
	"github.com/sweeney/voip-mqtt/internal/tone"
)

var patterns = map[string]tone.Pattern{
	tone.Ringback.Name: tone.Ringback,
	tone.Busy.Name:     tone.Busy,
}

func main() {
	name := flag.String("tone", "ringback", "Tone to render: ringback or busy")
	rate := flag.Int("rate", tone.DefaultSampleRate, "Sample rate in Hz")
	repeat := flag.Int("repeat", 1, "Passes through the pattern")
	outDir := flag.String("outdir", "testdata/tones", "Output directory for rendered tones")
	play := flag.Bool("play", false, "Play on the sound card instead of writing a file")
	flag.Parse()

	p, ok := patterns[*name]
	if !ok {
		fmt.Fprintf(os.Stderr, "error: unknown tone %q\n", *name)
		flag.Usage()
		os.Exit(1)
	}
	if *repeat < 1 {
		fmt.Fprintln(os.Stderr, "error: -repeat must be at least 1")
		os.Exit(1)
	}

	if *play {
		out, err := device.NewOtoOutput(*rate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("playing %s (%v x %d)...\n", p.Name, p.Duration(), *repeat)
		if err := playTone(out, p, *rate, *repeat); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	path, err := writeTone(*outDir, p, *rate, *repeat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("wrote:", path)
}

// render concatenates repeat passes of the pattern.
func render(p tone.Pattern, rate, repeat int) ([]int16, error) {
	segs, err := p.Render(rate)
	if err != nil {
		return nil, err
	}
	var pcm []int16
	for i := 0; i < repeat; i++ {
		for _, s := range segs {
			pcm = append(pcm, s...)
		}
	}
	return pcm, nil
}

func writeTone(outDir string, p tone.Pattern, rate, repeat int) (string, error) {
	pcm, err := render(p, rate, repeat)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}
	path := filepath.Join(outDir, fmt.Sprintf("%s-%dhz-s16le.raw", p.Name, rate))
	if err := os.WriteFile(path, device.EncodePCM(pcm), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// playTone writes the pattern to a track in frame-sized pieces, the way
// the feedback player feeds the device.
func playTone(out feedback.Output, p tone.Pattern, rate, repeat int) error {
	pcm, err := render(p, rate, repeat)
	if err != nil {
		return err
	}
	track, err := out.Open(rate)
	if err != nil {
		return fmt.Errorf("opening track: %w", err)
	}
	frame := int(int64(rate) * int64(feedback.DefaultFrame) / int64(time.Second))
	for start := 0; start < len(pcm); start += frame {
		end := min(start+frame, len(pcm))
		if err := track.Write(pcm[start:end]); err != nil {
			track.Close()
			return fmt.Errorf("writing samples: %w", err)
		}
	}
	if d, ok := track.(feedback.Drainer); ok {
		d.Drain()
	}
	return track.Close()
}
