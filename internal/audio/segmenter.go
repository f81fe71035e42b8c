package audio

import (
	"math"
	"time"
)

// StopReason says why a capture ended.
type StopReason int

const (
	StopNone StopReason = iota
	StopSilence
	StopMaxDuration
	StopEndOfStream
	StopFault
)

func (r StopReason) String() string {
	switch r {
	case StopNone:
		return "none"
	case StopSilence:
		return "silence"
	case StopMaxDuration:
		return "max_duration"
	case StopEndOfStream:
		return "end_of_stream"
	case StopFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Utterance is one captured spoken turn as 16-bit PCM. An utterance with no
// samples means nothing was captured; Stop tells a fault apart from silence.
type Utterance struct {
	Samples    []int16
	SampleRate int
	Stop       StopReason
}

func (u Utterance) Empty() bool { return len(u.Samples) == 0 }

func (u Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(u.Samples)) * time.Second / time.Duration(u.SampleRate)
}

// Segmenter is the voice-activity state machine for a single capture. It
// starts idle, switches to recording on the first frame louder than the
// threshold and stops after silence_duration of quiet or max_duration since
// start, whichever comes first. A Segmenter is not reusable.
type Segmenter struct {
	threshold  float64
	silence    time.Duration
	max        time.Duration
	sampleRate int

	start     time.Time
	lastSound time.Time
	recording bool
	frames    []Frame
}

// NewSegmenter returns an idle segmenter. start is the moment the stream was
// opened; max_duration is measured from it.
func NewSegmenter(cfg Config, start time.Time) *Segmenter {
	return &Segmenter{
		threshold:  cfg.Threshold,
		silence:    cfg.Silence(),
		max:        cfg.Max(),
		sampleRate: cfg.SampleRate,
		start:      start,
	}
}

func (s *Segmenter) Recording() bool { return s.recording }

// Buffered is the number of frames held so far.
func (s *Segmenter) Buffered() int { return len(s.frames) }

// Push feeds one frame and reports whether the utterance is complete.
// The frame that starts a recording is never terminal.
func (s *Segmenter) Push(f Frame) StopReason {
	loud := f.Volume() > s.threshold

	if !s.recording {
		if loud {
			s.recording = true
			s.frames = append(s.frames, f)
			s.lastSound = f.Time
		}
		return StopNone
	}

	s.frames = append(s.frames, f)
	if loud {
		s.lastSound = f.Time
	}

	if f.Time.Sub(s.lastSound) >= s.silence {
		return StopSilence
	}
	if f.Time.Sub(s.start) >= s.max {
		return StopMaxDuration
	}
	return StopNone
}

// Finish concatenates the buffered frames into an utterance. The buffer is
// handed over; the segmenter keeps no reference to it.
func (s *Segmenter) Finish(reason StopReason) Utterance {
	u := Utterance{
		Samples:    PCM16(s.frames...),
		SampleRate: s.sampleRate,
		Stop:       reason,
	}
	s.frames = nil
	s.recording = false
	return u
}

// Abort drops the buffer and returns an empty fault result.
func (s *Segmenter) Abort() Utterance {
	s.frames = nil
	s.recording = false
	return Utterance{SampleRate: s.sampleRate, Stop: StopFault}
}

// PCM16 concatenates frames in order and converts them to 16-bit PCM.
func PCM16(frames ...Frame) []int16 {
	n := 0
	for _, f := range frames {
		n += len(f.Samples)
	}
	if n == 0 {
		return nil
	}
	out := make([]int16, 0, n)
	for _, f := range frames {
		for _, x := range f.Samples {
			out = append(out, ScaleSample(x))
		}
	}
	return out
}

// ScaleSample maps [-1, 1] linearly onto [-32767, 32767], truncating toward
// zero. Out-of-range input is clamped first, NaN maps to 0. -1.0 yields
// -32767, never -32768.
func ScaleSample(x float32) int16 {
	v := float64(x)
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	return int16(v * math.MaxInt16)
}

// FloatsToPCM16 converts a raw float buffer with the same scaling as frames.
func FloatsToPCM16(samples []float32) []int16 {
	return PCM16(Frame{Samples: samples})
}
