package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"voxloop/pkg/audioconv"
)

// CLITranscriber runs the whisper.cpp command line tool on a temporary wav
// file and reads the text from its stdout.
type CLITranscriber struct {
	ExecPath string
	Model    string
	Language string
	Prompt   string
}

func NewCLITranscriber(execPath, model string) *CLITranscriber {
	return &CLITranscriber{ExecPath: execPath, Model: model, Language: "auto"}
}

func (s *CLITranscriber) Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", ErrNoAudio
	}

	var text string
	err := audioconv.WithTempWAV(pcm, sampleRate, func(path string) error {
		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, s.ExecPath, s.args(path)...)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			msg := strings.TrimSpace(stderr.String())
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && msg != "" {
				return fmt.Errorf("%s: %w: %s", s.ExecPath, err, msg)
			}
			return fmt.Errorf("%s: %w", s.ExecPath, err)
		}
		text = normalize(stdout.String())
		return nil
	})
	return text, err
}

func (s *CLITranscriber) args(path string) []string {
	args := []string{"-m", s.Model, "-f", path, "-nt", "-np"}
	if s.Language != "" {
		args = append(args, "-l", s.Language)
	}
	if s.Prompt != "" {
		args = append(args, "--prompt", s.Prompt)
	}
	return args
}
