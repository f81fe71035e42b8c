// Package device binds the audio package to real hardware: PortAudio for
// capture and beep's speaker for playback.
package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gordonklaus/portaudio"

	"voxloop/internal/audio"
)

// Init must be called once before any stream is opened.
func Init() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	return nil
}

func Terminate() error {
	return portaudio.Terminate()
}

// Microphone opens the default input device.
type Microphone struct{}

func NewMicrophone() *Microphone { return &Microphone{} }

func (m *Microphone) Open(_ context.Context, cfg audio.StreamConfig) (audio.Stream, error) {
	if cfg.Channels != 1 {
		return nil, fmt.Errorf("unsupported channel count %d", cfg.Channels)
	}
	if cfg.FrameSize < 1 {
		return nil, fmt.Errorf("invalid frame size %d", cfg.FrameSize)
	}

	buf := make([]float32, cfg.FrameSize)

	stream, err := portaudio.OpenDefaultStream(
		cfg.Channels, // in
		0,            // no out
		float64(cfg.SampleRate),
		len(buf),
		buf,
	)
	if err != nil {
		return nil, fmt.Errorf("open input stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start input stream: %w", err)
	}

	return &micStream{stream: stream, buf: buf}, nil
}

type micStream struct {
	stream *portaudio.Stream
	buf    []float32
}

// Read blocks until one frame is available. InputOverflowed is reported as
// a warning: the buffer still holds the latest samples.
func (s *micStream) Read() (audio.Frame, bool, error) {
	err := s.stream.Read()
	overflowed := errors.Is(err, portaudio.InputOverflowed)
	if err != nil && !overflowed {
		return audio.Frame{}, false, err
	}

	samples := make([]float32, len(s.buf))
	copy(samples, s.buf)

	return audio.Frame{Samples: samples, Time: time.Now()}, overflowed, nil
}

func (s *micStream) Close() error {
	return errors.Join(s.stream.Stop(), s.stream.Close())
}
