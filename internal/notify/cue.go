// Package notify plays a short chime when the microphone opens.
package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// FilePlayer decodes and plays a sound file, blocking until it ends.
type FilePlayer interface {
	PlayFile(ctx context.Context, path string) error
}

type Cue struct {
	path   string
	player FilePlayer
}

// NewCue checks that the file exists so a typo fails at startup rather than
// on every utterance.
func NewCue(path string, player FilePlayer) (*Cue, error) {
	if path == "" {
		return nil, errors.New("empty cue path")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cue file: %w", err)
	}
	return &Cue{path: path, player: player}, nil
}

func (c *Cue) Play(ctx context.Context) error {
	return c.player.PlayFile(ctx, c.path)
}
