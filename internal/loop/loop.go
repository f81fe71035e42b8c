// Package loop drives the listen → transcribe → reply → speak cycle.
package loop

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"voxloop/internal/audio"
	"voxloop/internal/chat"
	"voxloop/internal/observe"
	"voxloop/pkg/audioconv"
)

const DefaultPollInterval = time.Second

type Recorder interface {
	Record(ctx context.Context) (audio.Utterance, error)
	Enabled() bool
}

type Transcriber interface {
	Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error)
}

type Replier interface {
	Reply(ctx context.Context, text string) (string, error)
}

type Sink interface {
	Deliver(ctx context.Context, text string) error
}

type Speaker interface {
	Speak(ctx context.Context, text string) error
}

type Ducker interface {
	Duck(ctx context.Context) error
	Unduck(ctx context.Context) error
}

type Cue interface {
	Play(ctx context.Context) error
}

// Turn is what one utterance produced.
type Turn struct {
	Transcript string
	Reply      string
}

type Loop struct {
	rec     Recorder
	stt     Transcriber
	replier Replier
	sink    Sink
	speaker Speaker
	ducker  Ducker
	cue     Cue
	archive string
	poll    time.Duration
	metrics *observe.Metrics
	now     func() time.Time
}

type Option func(*Loop)

func WithReplier(r Replier) Option { return func(l *Loop) { l.replier = r } }

func WithSink(s Sink) Option { return func(l *Loop) { l.sink = s } }

func WithSpeaker(s Speaker) Option { return func(l *Loop) { l.speaker = s } }

// WithDucker lowers other applications while the microphone is open.
func WithDucker(d Ducker) Option { return func(l *Loop) { l.ducker = d } }

// WithCue plays a chime before each capture.
func WithCue(c Cue) Option { return func(l *Loop) { l.cue = c } }

// WithArchive saves every non-empty utterance as a wav file in dir.
func WithArchive(dir string) Option { return func(l *Loop) { l.archive = dir } }

func WithPollInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.poll = d
		}
	}
}

func WithMetrics(m *observe.Metrics) Option { return func(l *Loop) { l.metrics = m } }

func New(rec Recorder, stt Transcriber, opts ...Option) (*Loop, error) {
	if rec == nil || stt == nil {
		return nil, errors.New("loop needs a recorder and a transcriber")
	}
	l := &Loop{
		rec:  rec,
		stt:  stt,
		poll: DefaultPollInterval,
		now:  time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	if l.metrics == nil {
		m, err := observe.NewMetrics(noop.NewMeterProvider())
		if err != nil {
			return nil, err
		}
		l.metrics = m
	}
	return l, nil
}

// Run captures and handles utterances until ctx is cancelled. While the
// recorder is disabled it polls every poll interval. Stage failures are
// logged and never stop the loop. Cancellation is a normal exit.
func (l *Loop) Run(ctx context.Context) error {
	log.Info("Voice loop started")
	defer log.Info("Voice loop stopped")

	paused := false
	for {
		if ctx.Err() != nil {
			return nil
		}

		if !l.rec.Enabled() {
			if !paused {
				log.Info("Listening paused")
				paused = true
			}
			if err := sleep(ctx, l.poll); err != nil {
				return nil
			}
			continue
		}
		if paused {
			log.Info("Listening resumed")
			paused = false
		}

		if err := l.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// RunOnce records one utterance and handles it. It returns an error only
// when ctx was cancelled during capture.
func (l *Loop) RunOnce(ctx context.Context) error {
	if l.cue != nil {
		if err := l.cue.Play(ctx); err != nil {
			log.Warn("Failed to play cue", "err", err)
		}
	}

	u, err := l.record(ctx)
	if err != nil {
		return err
	}

	switch {
	case u.Stop == audio.StopFault:
		l.metrics.RecordFault(ctx)
		log.Warn("Capture failed, retrying")
		return nil
	case u.Empty():
		l.metrics.RecordUtterance(ctx, u.Stop.String(), 0)
		log.Info("Nothing captured")
		return nil
	}

	l.metrics.RecordUtterance(ctx, u.Stop.String(), u.Duration())
	log.Info("Utterance captured", "duration", u.Duration(), "reason", u.Stop)

	if l.archive != "" {
		if path, err := l.save(u); err != nil {
			log.Warn("Failed to archive utterance", "err", err)
		} else {
			log.Debug("Utterance archived", "path", path)
		}
	}

	if _, err := l.Handle(ctx, u); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		log.Error("Failed to handle utterance", "err", err)
	}
	return nil
}

func (l *Loop) record(ctx context.Context) (audio.Utterance, error) {
	if l.ducker != nil {
		if err := l.ducker.Duck(ctx); err != nil {
			log.Warn("Failed to duck other streams", "err", err)
		}
		defer func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := l.ducker.Unduck(rctx); err != nil {
				log.Warn("Failed to restore other streams", "err", err)
			}
		}()
	}

	start := time.Now()
	u, err := l.rec.Record(ctx)
	l.metrics.RecordStage(ctx, observe.StageRecord, start, err)
	return u, err
}

// Handle runs one utterance through transcription, delivery, reply and
// speech. Delivery failures are logged only; any other failure ends the turn
// and is returned.
func (l *Loop) Handle(ctx context.Context, u audio.Utterance) (Turn, error) {
	var turn Turn

	start := time.Now()
	text, err := l.stt.Transcribe(ctx, u.Samples, u.SampleRate)
	l.metrics.RecordStage(ctx, observe.StageTranscribe, start, err)
	if err != nil {
		return turn, fmt.Errorf("transcribe: %w", err)
	}
	if text == "" {
		log.Info("Empty transcript")
		return turn, nil
	}
	turn.Transcript = text
	log.Info("Transcribed", "text", text)

	if l.sink != nil {
		start = time.Now()
		err := l.sink.Deliver(ctx, text)
		l.metrics.RecordStage(ctx, observe.StageDeliver, start, err)
		if err != nil {
			log.Error("Failed to deliver transcript", "err", err)
		}
	}

	if l.replier == nil {
		return turn, nil
	}

	start = time.Now()
	reply, err := l.replier.Reply(ctx, text)
	l.metrics.RecordStage(ctx, observe.StageReply, start, err)
	if err != nil {
		var perr *chat.ParseError
		if errors.As(err, &perr) {
			return turn, fmt.Errorf("malformed reply: %w", err)
		}
		return turn, fmt.Errorf("reply: %w", err)
	}
	turn.Reply = reply
	log.Info("Reply", "text", reply)

	if l.speaker == nil {
		return turn, nil
	}

	start = time.Now()
	err = l.speaker.Speak(ctx, reply)
	l.metrics.RecordStage(ctx, observe.StageSpeak, start, err)
	if err != nil {
		return turn, fmt.Errorf("speak: %w", err)
	}
	return turn, nil
}

func (l *Loop) save(u audio.Utterance) (string, error) {
	if err := os.MkdirAll(l.archive, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(l.archive, l.now().Format("20060102-150405.000")+".wav")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := audioconv.WriteWAV(f, u.Samples, u.SampleRate); err != nil {
		_ = f.Close()
		return "", err
	}
	return path, f.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
