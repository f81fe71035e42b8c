// Package chat asks an OpenAI compatible chat completions endpoint for the
// assistant's reply to a conversation.
package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	DefaultTemperature = 0.5
	DefaultModel       = "gemini-2.0-flash"
	GeminiBaseURL      = "https://generativelanguage.googleapis.com/v1beta/openai/"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ParseError means the endpoint answered but the reply could not be
// extracted from the response.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "parse reply: " + e.Reason
}

var ErrEmptyHistory = errors.New("empty conversation history")

type Client struct {
	client      openai.Client
	model       string
	temperature float64
}

type Option func(*Client)

// WithTemperature overrides the sampling temperature (default 0.5).
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

func New(model string, reqOpts []option.RequestOption, opts ...Option) *Client {
	if model == "" {
		model = DefaultModel
	}
	c := &Client{
		client:      openai.NewClient(reqOpts...),
		model:       model,
		temperature: DefaultTemperature,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Complete sends the system prompt followed by history and returns the
// first choice's content.
func (c *Client) Complete(ctx context.Context, systemPrompt string, history []Message) (string, error) {
	if len(history) == 0 {
		return "", ErrEmptyHistory
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if systemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(systemPrompt))
	}
	for _, m := range history {
		switch m.Role {
		case RoleUser:
			msgs = append(msgs, openai.UserMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			return "", fmt.Errorf("unknown message role %q", m.Role)
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:    msgs,
		Model:       c.model,
		Temperature: openai.Float(c.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", &ParseError{Reason: "no choices in response"}
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", &ParseError{Reason: "empty message content"}
	}
	return content, nil
}

// LoadSystemPrompt reads a prompt file. Surrounding whitespace is dropped.
func LoadSystemPrompt(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
