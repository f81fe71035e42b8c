// Package sink pushes transcripts to downstream consumers.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Sink interface {
	Deliver(ctx context.Context, text string) error
}

// Transcript is the payload every sink sends.
type Transcript struct {
	Source string    `json:"source"`
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
}

// HTTPSink POSTs each transcript as JSON. Any non-2xx answer is an error.
type HTTPSink struct {
	url    string
	token  string
	source string
	client *http.Client
	now    func() time.Time
}

func NewHTTPSink(url, token string, client *http.Client) *HTTPSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSink{
		url:    url,
		token:  token,
		source: "voxloop",
		client: client,
		now:    time.Now,
	}
}

func (s *HTTPSink) Deliver(ctx context.Context, text string) error {
	body, err := json.Marshal(Transcript{Source: s.source, Text: text, Time: s.now().UTC()})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sink: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sink: HTTP %d from %s", resp.StatusCode, s.url)
	}
	return nil
}

// Multi delivers to every sink and joins the failures.
type Multi []Sink

func (m Multi) Deliver(ctx context.Context, text string) error {
	var errs []error
	for _, s := range m {
		if err := s.Deliver(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
