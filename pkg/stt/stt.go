// Package stt turns captured utterances into text.
//
// Every backend takes mono 16-bit PCM at its native rate and returns the
// recognized text with surrounding whitespace removed. An empty string with
// a nil error means the backend heard nothing intelligible.
package stt

import (
	"context"
	"errors"
	"strings"
)

var ErrNoAudio = errors.New("no audio samples provided")

type Transcriber interface {
	Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error)
}

// normalize joins the lines a backend printed into one sentence.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
