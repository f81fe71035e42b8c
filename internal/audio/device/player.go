package device

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"

	"voxloop/internal/audio"
)

// Player plays clips and sound files on the default output device. Calls
// are serialized; the speaker is reinitialized when the sample rate changes.
type Player struct {
	mu   sync.Mutex
	rate beep.SampleRate
}

func NewPlayer() *Player { return &Player{} }

// Play blocks until the clip finished or ctx is cancelled.
func (p *Player) Play(ctx context.Context, c audio.Clip) error {
	if len(c.Samples) == 0 {
		return nil
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", c.SampleRate)
	}

	return p.play(ctx, beep.SampleRate(c.SampleRate), clipStreamer(c.Samples))
}

// PlayFile decodes an mp3 or wav file and plays it.
func (p *Player) PlayFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".wav":
		streamer, format, err = wav.Decode(f)
	default:
		_ = f.Close()
		return fmt.Errorf("unsupported sound file %s", path)
	}
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("decode %s: %w", path, err)
	}
	defer streamer.Close()

	return p.play(ctx, format.SampleRate, streamer)
}

func (p *Player) play(ctx context.Context, rate beep.SampleRate, s beep.Streamer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rate != p.rate {
		if err := speaker.Init(rate, rate.N(time.Second/10)); err != nil {
			return fmt.Errorf("speaker init: %w", err)
		}
		p.rate = rate
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() {
		close(done)
	})))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

// clipStreamer plays mono samples on both channels.
func clipStreamer(samples []float32) beep.Streamer {
	pos := 0
	return beep.StreamerFunc(func(out [][2]float64) (int, bool) {
		if pos >= len(samples) {
			return 0, false
		}
		n := 0
		for n < len(out) && pos < len(samples) {
			v := float64(samples[pos])
			out[n][0], out[n][1] = v, v
			n++
			pos++
		}
		return n, true
	})
}
