// Package tts speaks replies out loud.
package tts

import (
	"context"
	"fmt"
	"strings"

	"voxloop/internal/audio"
)

// Synthesizer renders text into a mono clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audio.Clip, error)
}

// Player blocks until the clip has been played.
type Player interface {
	Play(ctx context.Context, c audio.Clip) error
}

// Speaker is anything that can say a sentence.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Voice joins a Synthesizer and a Player. Clips are peak-normalized before
// playback.
type Voice struct {
	synth  Synthesizer
	player Player
}

func NewVoice(s Synthesizer, p Player) *Voice {
	return &Voice{synth: s, player: p}
}

func (v *Voice) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	clip, err := v.synth.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	if len(clip.Samples) == 0 {
		return nil
	}

	if err := v.player.Play(ctx, clip.Normalized()); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	return nil
}
