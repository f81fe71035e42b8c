package audio

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Frame is one fixed-length block of mono samples in [-1, 1], stamped with
// the wall-clock time it was captured. Frames are not modified after the
// stream hands them out.
type Frame struct {
	Samples []float32
	Time    time.Time
}

// Volume is the energy measure used for voice activity: the L2 norm of the
// samples divided by sqrt(len), i.e. the RMS level.
func (f Frame) Volume() float64 {
	return frameRMS(f.Samples)
}

func frameRMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		v := float64(x)
		s += v * v
	}
	return math.Sqrt(s / float64(len(f)))
}

// Config holds the segmentation policy and capture format.
// Durations are in seconds.
type Config struct {
	Threshold       float64 `yaml:"threshold"`
	SilenceDuration float64 `yaml:"silence_duration"`
	MaxDuration     float64 `yaml:"max_duration"`
	SampleRate      int     `yaml:"sample_rate"`
	ChunkDuration   float64 `yaml:"chunk_duration"`
}

func DefaultConfig() Config {
	return Config{
		Threshold:       0.01,
		SilenceDuration: 1.0,
		MaxDuration:     30,
		SampleRate:      16000,
		ChunkDuration:   0.1,
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.Threshold < 0 {
		errs = append(errs, fmt.Errorf("threshold must be >= 0, got %g", c.Threshold))
	}
	if c.SilenceDuration <= 0 {
		errs = append(errs, fmt.Errorf("silence_duration must be > 0, got %g", c.SilenceDuration))
	}
	if c.MaxDuration <= 0 {
		errs = append(errs, fmt.Errorf("max_duration must be > 0, got %g", c.MaxDuration))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate must be > 0, got %d", c.SampleRate))
	}
	if c.ChunkDuration <= 0 {
		errs = append(errs, fmt.Errorf("chunk_duration must be > 0, got %g", c.ChunkDuration))
	} else if c.SampleRate > 0 && c.FrameSize() < 1 {
		errs = append(errs, fmt.Errorf("chunk_duration %g is shorter than one sample at %d Hz", c.ChunkDuration, c.SampleRate))
	}
	return errors.Join(errs...)
}

// FrameSize is the number of samples per frame, truncated toward zero.
func (c Config) FrameSize() int {
	return int(float64(c.SampleRate) * c.ChunkDuration)
}

func (c Config) Silence() time.Duration { return seconds(c.SilenceDuration) }

func (c Config) Max() time.Duration { return seconds(c.MaxDuration) }

func (c Config) Chunk() time.Duration { return seconds(c.ChunkDuration) }

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
