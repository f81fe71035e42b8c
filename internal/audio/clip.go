package audio

import (
	"math"
	"time"
)

// Clip is decoded mono audio ready for playback.
type Clip struct {
	Samples    []float32
	SampleRate int
}

func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// Normalized returns a copy scaled so that the loudest sample has magnitude
// 1. A silent clip is returned as is.
func (c Clip) Normalized() Clip {
	var peak float64
	for _, x := range c.Samples {
		peak = math.Max(peak, math.Abs(float64(x)))
	}
	if peak == 0 {
		return c
	}
	out := make([]float32, len(c.Samples))
	for i, x := range c.Samples {
		out[i] = float32(float64(x) / peak)
	}
	return Clip{Samples: out, SampleRate: c.SampleRate}
}
