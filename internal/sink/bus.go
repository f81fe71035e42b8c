package sink

import (
	"context"
	"encoding/json"
	"fmt"
	log "log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

// BusMessage is the envelope used on the websocket message bus.
type BusMessage struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

// BusSink publishes transcripts on a websocket bus. The connection is dialed
// on first use and dropped after any write failure, so the next Deliver
// reconnects.
type BusSink struct {
	mu      sync.Mutex
	url     string
	from    string
	to      string
	timeout time.Duration
	dialer  *ws.Dialer
	conn    *ws.Conn
}

func NewBusSink(url, from, to string, timeout time.Duration) *BusSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &BusSink{
		url:     url,
		from:    from,
		to:      to,
		timeout: timeout,
		dialer:  &ws.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: timeout},
	}
}

func (b *BusSink) Deliver(ctx context.Context, text string) error {
	payload, err := json.Marshal(BusMessage{
		From:    b.from,
		To:      b.to,
		Kind:    "transcript",
		Content: text,
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		conn, _, err := b.dialer.DialContext(ctx, b.url, nil)
		if err != nil {
			return fmt.Errorf("bus dial %s: %w", b.url, err)
		}
		log.Debug("Connected to bus", "url", b.url)
		b.conn = conn
		go b.drain(conn)
	}

	_ = b.conn.SetWriteDeadline(time.Now().Add(b.timeout))
	if err := b.conn.WriteMessage(ws.TextMessage, payload); err != nil {
		_ = b.conn.Close()
		b.conn = nil
		return fmt.Errorf("bus write: %w", err)
	}
	return nil
}

// drain reads and discards incoming messages so control frames are handled.
// When the peer goes away the connection is dropped and the next Deliver
// dials again.
func (b *BusSink) drain(conn *ws.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			b.mu.Lock()
			if b.conn == conn {
				log.Debug("Bus connection lost", "err", err)
				_ = conn.Close()
				b.conn = nil
			}
			b.mu.Unlock()
			return
		}
	}
}

// Connected reports whether a bus connection is currently open.
func (b *BusSink) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

func (b *BusSink) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return nil
	}
	_ = b.conn.WriteControl(ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := b.conn.Close()
	b.conn = nil
	return err
}
