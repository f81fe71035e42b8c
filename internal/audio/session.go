package audio

import (
	"context"
	"errors"
	"io"
	log "log/slog"
	"sync/atomic"
	"time"
)

// StreamConfig is the format a Source is asked to deliver.
type StreamConfig struct {
	SampleRate int
	Channels   int
	FrameSize  int
}

// Source opens capture streams on an input device.
type Source interface {
	Open(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// Stream delivers frames until closed. Read returns io.EOF when the source
// is exhausted and overflowed=true when the device dropped samples but the
// stream is still usable. Any other error is fatal for the stream.
type Stream interface {
	Read() (frame Frame, overflowed bool, err error)
	Close() error
}

// Switch is the enable/disable flag shared between the capture loop and the
// control surfaces.
type Switch struct {
	on atomic.Bool
}

func NewSwitch(enabled bool) *Switch {
	s := &Switch{}
	s.on.Store(enabled)
	return s
}

// Enable turns listening on and reports whether the state changed.
func (s *Switch) Enable() bool { return s.on.CompareAndSwap(false, true) }

// Disable turns listening off and reports whether the state changed.
func (s *Switch) Disable() bool { return s.on.CompareAndSwap(true, false) }

func (s *Switch) Enabled() bool { return s.on.Load() }

// Session records one utterance at a time from a Source.
type Session struct {
	cfg        Config
	src        Source
	sw         *Switch
	now        func() time.Time
	onOverflow func()
	logger     *log.Logger
}

type SessionOption func(*Session)

// WithClock overrides the clock used for the capture start time.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// WithSwitch shares an existing switch instead of creating one.
func WithSwitch(sw *Switch) SessionOption {
	return func(s *Session) { s.sw = sw }
}

// WithEnabled sets the initial state of the session's own switch.
func WithEnabled(enabled bool) SessionOption {
	return func(s *Session) { s.sw = NewSwitch(enabled) }
}

// WithOverflowHook is called once per overflowed read.
func WithOverflowHook(fn func()) SessionOption {
	return func(s *Session) { s.onOverflow = fn }
}

func WithLogger(l *log.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

func NewSession(cfg Config, src Source, opts ...SessionOption) *Session {
	s := &Session{
		cfg:    cfg,
		src:    src,
		now:    time.Now,
		logger: log.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.sw == nil {
		s.sw = NewSwitch(true)
	}
	return s
}

func (s *Session) Switch() *Switch { return s.sw }

// Enabled reads the switch; callers poll it fresh every iteration.
func (s *Session) Enabled() bool { return s.sw.Enabled() }

// Record opens the source, waits for speech and returns one utterance. It
// blocks until the utterance ends, the stream ends or ctx is cancelled. The
// stream is closed on every path.
//
// The only error returned is ctx.Err(). A device fault is logged and
// reported as an empty utterance with Stop == StopFault; no speech before the
// stream ended is an empty utterance with Stop == StopEndOfStream.
func (s *Session) Record(ctx context.Context) (Utterance, error) {
	if err := ctx.Err(); err != nil {
		return Utterance{}, err
	}

	stream, err := s.src.Open(ctx, StreamConfig{
		SampleRate: s.cfg.SampleRate,
		Channels:   1,
		FrameSize:  s.cfg.FrameSize(),
	})
	if err != nil {
		s.logger.Warn("Failed to open audio stream", "err", err)
		return Utterance{SampleRate: s.cfg.SampleRate, Stop: StopFault}, nil
	}
	defer func() {
		if err := stream.Close(); err != nil {
			s.logger.Warn("Failed to close audio stream", "err", err)
		}
	}()

	seg := NewSegmenter(s.cfg, s.now())
	s.logger.Debug("Waiting for speech")

	for {
		if err := ctx.Err(); err != nil {
			return Utterance{}, err
		}

		frame, overflowed, err := stream.Read()
		if err != nil {
			if ctx.Err() != nil {
				return Utterance{}, ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return seg.Finish(StopEndOfStream), nil
			}
			s.logger.Warn("Capture fault, dropping utterance", "err", err, "frames", seg.Buffered())
			return seg.Abort(), nil
		}

		if overflowed {
			s.logger.Warn("Input overflow, samples dropped")
			if s.onOverflow != nil {
				s.onOverflow()
			}
		}

		wasRecording := seg.Recording()
		reason := seg.Push(frame)
		if !wasRecording && seg.Recording() {
			s.logger.Info("Speech detected, recording")
		}
		if reason != StopNone {
			s.logger.Info("Recording stopped", "reason", reason, "frames", seg.Buffered())
			return seg.Finish(reason), nil
		}
	}
}
