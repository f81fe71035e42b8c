package audioconv

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const pcmFormat = 1

// WriteWAV encodes mono 16-bit PCM as a RIFF/WAVE file.
func WriteWAV(w io.WriteSeeker, pcm []int16, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	data := make([]int, len(pcm))
	for i, v := range pcm {
		data[i] = int(v)
	}

	enc := wav.NewEncoder(w, sampleRate, 16, 1, pcmFormat)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// EncodeWAV returns pcm as an in-memory wav file.
func EncodeWAV(pcm []int16, sampleRate int) ([]byte, error) {
	var buf memFile
	if err := WriteWAV(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.data, nil
}

// memFile is an io.WriteSeeker over a byte slice; the wav encoder seeks
// back to patch chunk sizes.
type memFile struct {
	data []byte
	pos  int
}

func (m *memFile) Write(p []byte) (int, error) {
	if end := m.pos + len(p); end > len(m.data) {
		m.data = append(m.data, make([]byte, end-len(m.data))...)
	}
	n := copy(m.data[m.pos:], p)
	m.pos += n
	return n, nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(m.pos)
	case io.SeekEnd:
		base = int64(len(m.data))
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	pos := base + offset
	if pos < 0 {
		return 0, errors.New("seek: negative position")
	}
	m.pos = int(pos)
	return pos, nil
}

// WithTempWAV writes pcm to a temporary wav file, calls fn with its path and
// removes the file afterwards, whatever fn returns.
func WithTempWAV(pcm []int16, sampleRate int, fn func(path string) error) error {
	if len(pcm) == 0 {
		return errors.New("no audio samples provided")
	}

	f, err := os.CreateTemp("", "voxloop-*.wav")
	if err != nil {
		return fmt.Errorf("create temp wav: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if err := WriteWAV(f, pcm, sampleRate); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp wav: %w", err)
	}

	return fn(path)
}
