package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"voxloop/pkg/audioconv"
)

// ServerTranscriber posts the utterance to a running whisper.cpp server
// (POST /inference, multipart form with a "file" field).
type ServerTranscriber struct {
	url      string
	language string
	client   *http.Client
}

func NewServerTranscriber(serverURL, language string, client *http.Client) *ServerTranscriber {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &ServerTranscriber{
		url:      strings.TrimRight(serverURL, "/"),
		language: language,
		client:   client,
	}
}

func (s *ServerTranscriber) Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", ErrNoAudio
	}

	wavData, err := audioconv.EncodeWAV(pcm, sampleRate)
	if err != nil {
		return "", fmt.Errorf("whisper server: encode wav: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper server: build form: %w", err)
	}
	if _, err := fw.Write(wavData); err != nil {
		return "", fmt.Errorf("whisper server: build form: %w", err)
	}

	if s.language != "" {
		if err := mw.WriteField("language", s.language); err != nil {
			return "", fmt.Errorf("whisper server: write language field: %w", err)
		}
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("whisper server: write format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper server: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper server: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper server: HTTP %d", resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper server: decode response: %w", err)
	}
	return normalize(result.Text), nil
}
