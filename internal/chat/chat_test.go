package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/openai/openai-go/v3/option"
)

type completionRequest struct {
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	Messages    []Message `json:"messages"`
}

func completionServer(t *testing.T, reply string, seen *completionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if seen != nil {
			if err := json.NewDecoder(r.Body).Decode(seen); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testClient(srv *httptest.Server, opts ...Option) *Client {
	return New("gemini-2.0-flash", []option.RequestOption{
		option.WithAPIKey("test"),
		option.WithBaseURL(srv.URL + "/"),
		option.WithMaxRetries(0),
	}, opts...)
}

const okReply = `{
  "id": "c1", "object": "chat.completion", "created": 1, "model": "gemini-2.0-flash",
  "choices": [{"index": 0, "finish_reason": "stop",
    "message": {"role": "assistant", "content": "  Hi, I'm here.  "}}]
}`

func TestCompleteSendsSystemPromptAndHistory(t *testing.T) {
	var seen completionRequest
	srv := completionServer(t, okReply, &seen)

	got, err := testClient(srv).Complete(context.Background(), "be brief", []Message{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi"},
		{Role: RoleUser, Content: "are you there?"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Hi, I'm here." {
		t.Fatalf("unexpected reply %q", got)
	}

	if seen.Model != "gemini-2.0-flash" || seen.Temperature != 0.5 {
		t.Fatalf("unexpected model/temperature: %+v", seen)
	}
	want := []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
		{Role: "user", Content: "are you there?"},
	}
	if len(seen.Messages) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(seen.Messages))
	}
	for i := range want {
		if seen.Messages[i] != want[i] {
			t.Errorf("message %d: got %+v, want %+v", i, seen.Messages[i], want[i])
		}
	}
}

func TestCompleteParseErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no choices", `{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[]}`},
		{"empty content", `{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":""}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := completionServer(t, tt.body, nil)
			_, err := testClient(srv).Complete(context.Background(), "", []Message{{Role: RoleUser, Content: "x"}})
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected *ParseError, got %v", err)
			}
		})
	}
}

func TestCompleteTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"overloaded"}}`)
	}))
	defer srv.Close()

	_, err := testClient(srv).Complete(context.Background(), "", []Message{{Role: RoleUser, Content: "x"}})
	var perr *ParseError
	if err == nil || errors.As(err, &perr) {
		t.Fatalf("expected a transport error, got %v", err)
	}
}

func TestCompleteRejectsBadInput(t *testing.T) {
	c := New("", nil)
	if _, err := c.Complete(context.Background(), "", nil); !errors.Is(err, ErrEmptyHistory) {
		t.Fatalf("expected ErrEmptyHistory, got %v", err)
	}
	if _, err := c.Complete(context.Background(), "", []Message{{Role: "tool", Content: "x"}}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

type scriptedCompleter struct {
	replies []string
	err     error
	calls   [][]Message
}

func (s *scriptedCompleter) Complete(_ context.Context, _ string, h []Message) (string, error) {
	s.calls = append(s.calls, h)
	if s.err != nil {
		return "", s.err
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

func TestConversationKeepsHistory(t *testing.T) {
	backend := &scriptedCompleter{replies: []string{"one", "two", "three"}}
	conv := NewConversation(backend, "sys", 4)

	for _, text := range []string{"a", "b", "c"} {
		if _, err := conv.Reply(context.Background(), text); err != nil {
			t.Fatal(err)
		}
	}

	h := conv.History()
	want := []Message{
		{RoleUser, "b"}, {RoleAssistant, "two"},
		{RoleUser, "c"}, {RoleAssistant, "three"},
	}
	if len(h) != len(want) {
		t.Fatalf("expected %d messages, got %d: %+v", len(want), len(h), h)
	}
	for i := range want {
		if h[i] != want[i] {
			t.Fatalf("message %d: got %+v, want %+v", i, h[i], want[i])
		}
	}

	// Third call saw the trimmed window ending with the new user turn.
	last := backend.calls[2]
	if last[0].Role != RoleUser || last[len(last)-1].Content != "c" {
		t.Fatalf("unexpected window %+v", last)
	}
}

func TestConversationFailureKeepsHistory(t *testing.T) {
	backend := &scriptedCompleter{replies: []string{"ok"}}
	conv := NewConversation(backend, "", 0)
	if _, err := conv.Reply(context.Background(), "first"); err != nil {
		t.Fatal(err)
	}

	backend.err = errors.New("down")
	if _, err := conv.Reply(context.Background(), "second"); err == nil {
		t.Fatal("expected error")
	}
	if n := len(conv.History()); n != 2 {
		t.Fatalf("failed turn must not be recorded, history has %d messages", n)
	}

	conv.Reset()
	if len(conv.History()) != 0 {
		t.Fatal("reset must clear history")
	}
}

func TestLoadSystemPrompt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, []byte("\nYou are Kayoko.\n\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := LoadSystemPrompt(path)
	if err != nil || got != "You are Kayoko." {
		t.Fatalf("got %q, %v", got, err)
	}
	if _, err := LoadSystemPrompt(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
