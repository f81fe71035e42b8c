package chat

import (
	"context"
	"sync"
)

// Completer is the reply backend a Conversation talks to.
type Completer interface {
	Complete(ctx context.Context, systemPrompt string, history []Message) (string, error)
}

// Conversation keeps the running user/assistant history and asks the
// backend for a reply to each new user turn.
type Conversation struct {
	mu      sync.Mutex
	backend Completer
	system  string
	limit   int
	history []Message
}

// NewConversation keeps at most maxHistory messages; 0 means unbounded.
func NewConversation(backend Completer, systemPrompt string, maxHistory int) *Conversation {
	return &Conversation{
		backend: backend,
		system:  systemPrompt,
		limit:   max(maxHistory, 0),
	}
}

// Reply appends text as a user turn and returns the assistant's answer. A
// failed call leaves the history as it was.
func (c *Conversation) Reply(ctx context.Context, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	history := make([]Message, len(c.history), len(c.history)+2)
	copy(history, c.history)
	history = append(history, Message{Role: RoleUser, Content: text})
	history = c.trim(history)

	reply, err := c.backend.Complete(ctx, c.system, history)
	if err != nil {
		return "", err
	}

	c.history = c.trim(append(history, Message{Role: RoleAssistant, Content: reply}))
	return reply, nil
}

// History returns a copy of the stored messages.
func (c *Conversation) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Conversation) Reset() {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
}

// trim drops the oldest messages over the limit. The kept window never
// starts with an assistant message.
func (c *Conversation) trim(h []Message) []Message {
	if c.limit == 0 || len(h) <= c.limit {
		return h
	}
	h = h[len(h)-c.limit:]
	for len(h) > 1 && h[0].Role == RoleAssistant {
		h = h[1:]
	}
	return h
}
