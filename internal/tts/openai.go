package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"voxloop/internal/audio"
	"voxloop/pkg/audioconv"
)

const (
	DefaultSpeechModel = "gpt-4o-mini-tts"
	DefaultSpeechVoice = "alloy"

	// OpenAI returns raw pcm as 24 kHz mono signed 16-bit little endian.
	openAIPCMRate = 24000
)

type OpenAISynthesizer struct {
	client openai.Client
	model  string
	voice  string
	format string
}

type OpenAIOption func(*OpenAISynthesizer)

func WithVoice(voice string) OpenAIOption {
	return func(s *OpenAISynthesizer) { s.voice = voice }
}

// WithWAV requests wav instead of raw pcm, for servers that only speak wav.
func WithWAV() OpenAIOption {
	return func(s *OpenAISynthesizer) { s.format = "wav" }
}

func NewOpenAISynthesizer(model string, reqOpts []option.RequestOption, opts ...OpenAIOption) *OpenAISynthesizer {
	if model == "" {
		model = DefaultSpeechModel
	}
	s := &OpenAISynthesizer{
		client: openai.NewClient(reqOpts...),
		model:  model,
		voice:  DefaultSpeechVoice,
		format: "pcm",
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	resp, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(s.model),
		Voice:          openai.AudioSpeechNewParamsVoice(s.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormat(s.format),
	})
	if err != nil {
		return audio.Clip{}, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return audio.Clip{}, fmt.Errorf("openai speech: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("read speech: %w", err)
	}

	if s.format == "wav" {
		m, err := audioconv.DecodeWAV(bytes.NewReader(body))
		if err != nil {
			return audio.Clip{}, fmt.Errorf("decode speech: %w", err)
		}
		return audio.Clip{Samples: m.Samples, SampleRate: m.SampleRate}, nil
	}
	return pcmClip(body, openAIPCMRate), nil
}

func pcmClip(raw []byte, rate int) audio.Clip {
	pcm := make([]int16, len(raw)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return audio.Clip{Samples: audioconv.Int16ToFloat32(pcm), SampleRate: rate}
}
