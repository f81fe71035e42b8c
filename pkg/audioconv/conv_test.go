package audioconv

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func TestWAVRoundTripThroughFile(t *testing.T) {
	pcm := []int16{0, 16384, -16384, 32767, -32768}

	var seen string
	err := WithTempWAV(pcm, 8000, func(path string) error {
		seen = path
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		m, err := DecodeWAV(f)
		if err != nil {
			return err
		}
		if m.SampleRate != 8000 {
			t.Errorf("expected 8000 Hz, got %d", m.SampleRate)
		}
		want := []float32{0, 0.5, -0.5, 32767.0 / 32768, -1}
		if len(m.Samples) != len(want) {
			t.Fatalf("expected %d samples, got %d", len(want), len(m.Samples))
		}
		for i := range want {
			if m.Samples[i] != want[i] {
				t.Errorf("sample %d: got %v, want %v", i, m.Samples[i], want[i])
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(seen); !os.IsNotExist(err) {
		t.Fatalf("temp file %s not removed", seen)
	}
}

func TestWithTempWAVRemovesOnError(t *testing.T) {
	boom := errors.New("boom")
	var seen string
	err := WithTempWAV([]int16{1, 2, 3}, 16000, func(path string) error {
		seen = path
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if _, err := os.Stat(seen); !os.IsNotExist(err) {
		t.Fatal("temp file not removed after error")
	}

	if err := WithTempWAV(nil, 16000, func(string) error { return nil }); err == nil {
		t.Fatal("expected error for empty input")
	}
}

// encodeRaw writes data verbatim with the given header fields.
func encodeRaw(t *testing.T, bitDepth, format int, data []int) []byte {
	t.Helper()
	var buf memFile
	enc := wav.NewEncoder(&buf, 8000, bitDepth, 1, format)
	if err := enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 8000},
		Data:           data,
		SourceBitDepth: bitDepth,
	}); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.data
}

func floatBits(xs ...float32) []int {
	out := make([]int, len(xs))
	for i, x := range xs {
		out[i] = int(int32(math.Float32bits(x)))
	}
	return out
}

func TestDecodeWAVFormats(t *testing.T) {
	tests := []struct {
		name     string
		bitDepth int
		format   int
		data     []int
		want     []float32
		err      error
	}{
		{"pcm16", 16, 1, []int{0, 16384, -32768}, []float32{0, 0.5, -1}, nil},
		{"unsigned 8-bit silence", 8, 1, []int{128, 128, 128, 128}, []float32{0, 0, 0, 0}, nil},
		{"unsigned 8-bit extremes", 8, 1, []int{0, 192, 255}, []float32{-1, 0.5, 127.0 / 128}, nil},
		{"float32", 32, 3, floatBits(0.5, -0.5, 0.25, 0), []float32{0.5, -0.5, 0.25, 0}, nil},
		{"float32 clamped", 32, 3, floatBits(1.5, -2), []float32{1, -1}, nil},
		{"float16 tag", 16, 3, []int{1, 2}, nil, ErrUnsupported},
		{"a-law", 8, 6, []int{1, 2}, nil, ErrUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := encodeRaw(t, tt.bitDepth, tt.format, tt.data)
			m, err := DecodeWAV(bytes.NewReader(raw))
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("expected %v, got %v", tt.err, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(m.Samples) != len(tt.want) {
				t.Fatalf("expected %d samples, got %v", len(tt.want), m.Samples)
			}
			for i := range tt.want {
				if m.Samples[i] != tt.want[i] {
					t.Errorf("sample %d: got %v, want %v", i, m.Samples[i], tt.want[i])
				}
			}
		})
	}
}

func TestEncodeWAV(t *testing.T) {
	raw, err := EncodeWAV([]int16{1, 2, 3, 4}, 16000)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 52 || string(raw[:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		t.Fatalf("unexpected wav header %q (%d bytes)", raw[:12], len(raw))
	}
	m, err := DecodeWAV(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if m.SampleRate != 16000 || len(m.Samples) != 4 {
		t.Fatalf("unexpected decode %+v", m)
	}
}

func TestConvertFileResamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteWAV(f, make([]int16, 8000), 8000); err != nil {
		t.Fatal(err)
	}
	f.Close()

	x, err := ConvertFileToPCM16k(context.Background(), path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(x) != 16000 {
		t.Fatalf("expected 16000 samples after resampling, got %d", len(x))
	}

	x, err = ConvertFileToPCM16k(context.Background(), path, Options{MaxSamples: 100})
	if err != nil || len(x) != 100 {
		t.Fatalf("expected truncation to 100 samples, got %d (%v)", len(x), err)
	}
}

func TestDecodeFileRejectsUnknown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := DecodeFile(context.Background(), path)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestDownmix(t *testing.T) {
	got := Downmix([]float32{1, 0, 0.5, 0.5, -1, 1}, 2)
	want := []float32{0.5, 0.5, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestResample(t *testing.T) {
	in := []float32{0, 1}
	out := Resample(in, 1, 2)
	want := []float32{0, 0.5, 1, 1}
	if len(out) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(out))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("sample %d: got %v, want %v", i, out[i], want[i])
		}
	}
	if same := Resample(in, 16000, 16000); &same[0] != &in[0] {
		t.Fatal("equal rates must return the input")
	}
}
