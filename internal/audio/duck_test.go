package audio

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

const sinkInputs = `Sink Input #41
	Driver: protocol-native.c
	Volume: front-left: 65536 / 100% / 0.00 dB,   front-right: 65536 / 100% / 0.00 dB
	Properties:
		application.name = "Firefox"
		media.name = "Playback"

Sink Input #57
	Driver: protocol-native.c
	Volume: front-left: 39322 /  60% / -13.31 dB,   front-right: 39322 /  60% / -13.31 dB
	Properties:
		application.name = "voxloop"

Sink Input #60
	Driver: protocol-native.c
	Volume: mono: 52429 /  80% / -5.81 dB
	Properties:
		application.name = "mpv"
`

func TestParseSinkInputs(t *testing.T) {
	got := parseSinkInputs(sinkInputs)
	want := []streamInfo{
		{ID: 41, Volume: 100, AppName: "Firefox"},
		{ID: 57, Volume: 60, AppName: "voxloop"},
		{ID: 60, Volume: 80, AppName: "mpv"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d streams, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stream %d: got %+v, want %+v", i, got[i], want[i])
		}
	}

	if parseSinkInputs("") != nil {
		t.Fatal("expected nil for empty output")
	}
}

type pactlRecorder struct {
	listing string
	calls   []string
	fail    error
}

func (p *pactlRecorder) run(_ context.Context, name string, args ...string) ([]byte, error) {
	if p.fail != nil {
		return nil, p.fail
	}
	call := name + " " + strings.Join(args, " ")
	if args[0] == "list" {
		return []byte(p.listing), nil
	}
	p.calls = append(p.calls, call)
	return nil, nil
}

func newTestDucker(cfg DuckConfig, p *pactlRecorder) *Ducker {
	d := NewDucker(cfg)
	d.run = p.run
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d
}

func TestDuckerDuckAndRestore(t *testing.T) {
	p := &pactlRecorder{listing: sinkInputs}
	d := newTestDucker(DuckConfig{SelfNames: []string{"voxloop"}, Factor: 0.2, MinVolume: 20}, p)

	if err := d.Duck(context.Background()); err != nil {
		t.Fatal(err)
	}
	wantDuck := []string{
		"pactl set-sink-input-volume 41 20%",
		"pactl set-sink-input-volume 60 20%",
	}
	if strings.Join(p.calls, "\n") != strings.Join(wantDuck, "\n") {
		t.Fatalf("unexpected duck calls:\n%s", strings.Join(p.calls, "\n"))
	}

	// A second Duck while active does nothing.
	p.calls = nil
	if err := d.Duck(context.Background()); err != nil || len(p.calls) != 0 {
		t.Fatalf("repeated duck must be a no-op, got %v %v", err, p.calls)
	}

	if err := d.Unduck(context.Background()); err != nil {
		t.Fatal(err)
	}
	wantRestore := []string{
		"pactl set-sink-input-volume 41 100%",
		"pactl set-sink-input-volume 60 80%",
	}
	if strings.Join(p.calls, "\n") != strings.Join(wantRestore, "\n") {
		t.Fatalf("unexpected restore calls:\n%s", strings.Join(p.calls, "\n"))
	}
}

func TestDuckerFadeSteps(t *testing.T) {
	p := &pactlRecorder{listing: "Sink Input #1\n\tVolume: mono: 1 / 100% / 0 dB\n\tapplication.name = \"x\"\n"}
	d := newTestDucker(DuckConfig{Factor: 0.5, Fade: 40 * time.Millisecond}, p)

	if err := d.Duck(context.Background()); err != nil {
		t.Fatal(err)
	}
	// 4 steps of 10ms, 5 volume updates from 100% to 50%.
	if len(p.calls) != 5 {
		t.Fatalf("expected 5 volume updates, got %d: %v", len(p.calls), p.calls)
	}
	if last := p.calls[len(p.calls)-1]; last != "pactl set-sink-input-volume 1 50%" {
		t.Fatalf("unexpected final call %q", last)
	}
}

func TestDuckerPactlFailure(t *testing.T) {
	p := &pactlRecorder{fail: errors.New("pactl: not found")}
	d := newTestDucker(DuckConfig{Factor: 0.2}, p)

	if err := d.Duck(context.Background()); err == nil {
		t.Fatal("expected error when pactl fails")
	}
	if err := d.Unduck(context.Background()); err != nil {
		t.Fatalf("unduck without duck must be a no-op, got %v", err)
	}
}
