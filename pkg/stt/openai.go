package stt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"voxloop/pkg/audioconv"
)

const DefaultOpenAIModel = "whisper-1"

// OpenAITranscriber uploads the utterance to an OpenAI compatible
// /audio/transcriptions endpoint.
type OpenAITranscriber struct {
	client   openai.Client
	model    string
	language string
	prompt   string
}

type OpenAIOption func(*OpenAITranscriber)

func WithLanguage(lang string) OpenAIOption {
	return func(t *OpenAITranscriber) { t.language = lang }
}

// WithPrompt biases recognition towards the given vocabulary.
func WithPrompt(prompt string) OpenAIOption {
	return func(t *OpenAITranscriber) { t.prompt = prompt }
}

func NewOpenAITranscriber(model string, reqOpts []option.RequestOption, opts ...OpenAIOption) *OpenAITranscriber {
	if model == "" {
		model = DefaultOpenAIModel
	}
	t := &OpenAITranscriber{
		client: openai.NewClient(reqOpts...),
		model:  model,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", ErrNoAudio
	}

	var text string
	err := audioconv.WithTempWAV(pcm, sampleRate, func(path string) error {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		params := openai.AudioTranscriptionNewParams{
			File:  openai.File(f, filepath.Base(path), "audio/wav"),
			Model: openai.AudioModel(t.model),
		}
		if t.language != "" && t.language != "auto" {
			params.Language = openai.String(t.language)
		}
		if t.prompt != "" {
			params.Prompt = openai.String(t.prompt)
		}

		resp, err := t.client.Audio.Transcriptions.New(ctx, params)
		if err != nil {
			return fmt.Errorf("openai transcription: %w", err)
		}
		if resp == nil {
			return errors.New("openai transcription: empty response")
		}
		text = normalize(resp.Text)
		return nil
	})
	return text, err
}
