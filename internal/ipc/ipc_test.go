package ipc

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"voxloop/internal/audio"
)

func startServer(t *testing.T, sw *audio.Switch) string {
	t.Helper()
	// Unix socket paths are limited to ~100 bytes; t.TempDir can be longer.
	dir, err := os.MkdirTemp("", "vx")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "ctl.sock")

	srv, err := Listen(path, sw)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("socket server did not stop")
		}
	})
	return path
}

func TestCommands(t *testing.T) {
	sw := audio.NewSwitch(true)
	path := startServer(t, sw)

	tests := []struct {
		cmd     string
		status  string
		enabled bool
	}{
		{CmdStatus, "started", true},
		{CmdStop, "stopped", false},
		{CmdStop, "stopped", false},
		{CmdStatus, "stopped", false},
		{CmdStart, "started", true},
	}
	for _, tt := range tests {
		rep, err := SendCommand(path, tt.cmd)
		if err != nil {
			t.Fatalf("%s: %v", tt.cmd, err)
		}
		if rep.Status != tt.status || sw.Enabled() != tt.enabled {
			t.Fatalf("%s: got %q (enabled=%v)", tt.cmd, rep.Status, sw.Enabled())
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	path := startServer(t, audio.NewSwitch(true))
	if _, err := SendCommand(path, "reboot"); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestListenReplacesStaleSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "vx")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "ctl.sock")

	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	srv, err := Listen(path, audio.NewSwitch(false))
	if err != nil {
		t.Fatalf("stale file must be replaced: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("Close must remove the socket file")
	}
}

func TestSendCommandNoServer(t *testing.T) {
	if _, err := SendCommand(filepath.Join(t.TempDir(), "none.sock"), CmdStatus); err == nil {
		t.Fatal("expected dial error")
	}
}

// flakyListener fails Accept a fixed number of times, then reports closed.
type flakyListener struct {
	mu       sync.Mutex
	failures int
	calls    []time.Time
}

func (l *flakyListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, time.Now())
	if len(l.calls) <= l.failures {
		return nil, errors.New("accept: too many open files")
	}
	return nil, net.ErrClosed
}

func (l *flakyListener) Close() error   { return nil }
func (l *flakyListener) Addr() net.Addr { return &net.UnixAddr{Name: "flaky", Net: "unix"} }

func TestServeBacksOffOnAcceptErrors(t *testing.T) {
	ln := &flakyListener{failures: 4}
	srv := &Server{sw: audio.NewSwitch(true), ln: ln}

	if err := srv.Serve(context.Background()); err != nil {
		t.Fatal(err)
	}

	ln.mu.Lock()
	defer ln.mu.Unlock()
	if len(ln.calls) != 5 {
		t.Fatalf("expected 5 accept calls, got %d", len(ln.calls))
	}
	// 5, 10, 20 and 40ms between retries.
	want := minAcceptDelay
	for i := 1; i < len(ln.calls); i++ {
		if gap := ln.calls[i].Sub(ln.calls[i-1]); gap < want {
			t.Errorf("retry %d after %v, expected at least %v", i, gap, want)
		}
		want *= 2
	}
}
