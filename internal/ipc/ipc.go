// Package ipc is the local control socket used by voxloop-ctl.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"sync"
	"time"

	"voxloop/internal/audio"
	"voxloop/internal/control"
)

const DefaultSocketPath = "/tmp/voxloop.sock"

// Backoff after a failed Accept, doubling up to the maximum.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

const (
	CmdStart  = "start"
	CmdStop   = "stop"
	CmdStatus = "status"
)

// ControlMessage is one request on the socket, newline-delimited JSON.
type ControlMessage struct {
	Cmd string `json:"cmd"`
}

type Reply struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

type Server struct {
	path string
	sw   *audio.Switch
	ln   net.Listener
	wg   sync.WaitGroup
	once sync.Once
}

// Listen removes a stale socket file and binds path.
func Listen(path string, sw *audio.Switch) (*Server, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	return &Server{path: path, sw: sw, ln: ln}, nil
}

func (s *Server) Addr() string { return s.path }

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	log.Info("Control socket listening", "path", s.path)

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	var delay time.Duration
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			delay = min(max(2*delay, minAcceptDelay), maxAcceptDelay)
			log.Warn("Failed to accept control connection", "err", err, "retry_in", delay)
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ln.Close()
		_ = os.Remove(s.path)
	})
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		log.Debug("Bad control message", "err", err)
		_ = json.NewEncoder(conn).Encode(Reply{Error: "malformed request"})
		return
	}

	_ = json.NewEncoder(conn).Encode(s.dispatch(msg.Cmd))
}

func (s *Server) dispatch(cmd string) Reply {
	switch cmd {
	case CmdStart:
		if s.sw.Enable() {
			log.Info("Listening enabled", "via", "socket")
		}
		return Reply{Status: control.StatusStarted}
	case CmdStop:
		if s.sw.Disable() {
			log.Info("Listening disabled", "via", "socket")
		}
		return Reply{Status: control.StatusStopped}
	case CmdStatus:
		return Reply{Status: control.StateOf(s.sw)}
	default:
		return Reply{Error: fmt.Sprintf("unknown command %q", cmd)}
	}
}

// SendCommand sends one command and waits for the reply.
func SendCommand(path, cmd string) (Reply, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if err := json.NewEncoder(conn).Encode(ControlMessage{Cmd: cmd}); err != nil {
		return Reply{}, fmt.Errorf("send: %w", err)
	}

	var rep Reply
	if err := json.NewDecoder(conn).Decode(&rep); err != nil {
		return Reply{}, fmt.Errorf("read reply: %w", err)
	}
	if rep.Error != "" {
		return rep, errors.New(rep.Error)
	}
	return rep, nil
}
