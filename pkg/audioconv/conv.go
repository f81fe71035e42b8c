// Package audioconv decodes sound files into mono float PCM and writes
// utterances as 16-bit WAV for tools that only take files.
package audioconv

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

// TargetRate is the rate speech models expect.
const TargetRate = 16000

var ErrUnsupported = errors.New("unsupported audio format")

type Options struct {
	// MaxSamples truncates the output; 0 keeps everything.
	MaxSamples int
}

// Mono is decoded single-channel audio at its native rate.
type Mono struct {
	Samples    []float32
	SampleRate int
}

// ConvertFileToPCM16k decodes a wav, mp3 or ogg file and returns mono
// samples at 16 kHz.
func ConvertFileToPCM16k(ctx context.Context, path string, opt Options) ([]float32, error) {
	m, err := DecodeFile(ctx, path)
	if err != nil {
		return nil, err
	}
	x := Resample(m.Samples, m.SampleRate, TargetRate)
	if opt.MaxSamples > 0 && len(x) > opt.MaxSamples {
		x = x[:opt.MaxSamples]
	}
	return x, nil
}

// DecodeFile picks a decoder by extension and falls back to sniffing the
// magic bytes for unknown extensions.
func DecodeFile(ctx context.Context, path string) (Mono, error) {
	f, err := os.Open(path)
	if err != nil {
		return Mono{}, err
	}
	defer f.Close()

	if err := ctx.Err(); err != nil {
		return Mono{}, err
	}

	kind := strings.ToLower(filepath.Ext(path))
	switch kind {
	case ".wav", ".mp3", ".ogg", ".oga", ".opus":
	default:
		magic, _ := bufio.NewReader(f).Peek(4)
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return Mono{}, err
		}
		switch string(magic) {
		case "RIFF":
			kind = ".wav"
		case "OggS":
			kind = ".ogg"
		case "ID3\x03", "ID3\x04":
			kind = ".mp3"
		default:
			return Mono{}, fmt.Errorf("%w: %s (supported: wav/mp3/ogg-vorbis[/opus])", ErrUnsupported, kind)
		}
	}

	switch kind {
	case ".wav":
		return DecodeWAV(f)
	case ".mp3":
		return DecodeMP3(f)
	case ".opus":
		return decodeOggOpus(f)
	default:
		m, verr := DecodeOggVorbis(f)
		if verr == nil {
			return m, nil
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return Mono{}, err
		}
		m, oerr := decodeOggOpus(f)
		if oerr != nil {
			return Mono{}, fmt.Errorf("cannot decode ogg as vorbis (%v) or opus: %w", verr, oerr)
		}
		return m, nil
	}
}

// WAV format tags.
const (
	wavPCM        = 1
	wavFloat      = 3
	wavExtensible = 0xFFFE
)

// DecodeWAV reads an integer or 32-bit float wav and downmixes it to mono.
// 8-bit data is unsigned with 128 as silence.
func DecodeWAV(r io.ReadSeeker) (Mono, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Mono{}, errors.New("invalid wav")
	}

	bd := int(dec.BitDepth)
	switch dec.WavAudioFormat {
	case wavPCM, wavExtensible:
	case wavFloat:
		if bd != 32 {
			return Mono{}, fmt.Errorf("%w: %d-bit float wav", ErrUnsupported, bd)
		}
	default:
		return Mono{}, fmt.Errorf("%w: wav format tag %#x", ErrUnsupported, dec.WavAudioFormat)
	}

	pb, err := dec.FullPCMBuffer()
	if err != nil {
		return Mono{}, fmt.Errorf("read wav: %w", err)
	}
	if pb == nil || len(pb.Data) == 0 {
		return Mono{}, errors.New("empty wav")
	}

	ch, sr := int(dec.NumChans), int(dec.SampleRate)
	if pb.Format != nil {
		ch, sr = pb.Format.NumChannels, pb.Format.SampleRate
	}
	if sr <= 0 {
		return Mono{}, errors.New("wav without sample rate")
	}

	var samples []float32
	if dec.WavAudioFormat == wavFloat {
		samples = floatBitsToFloat32(pb.Data)
	} else {
		samples = intsToFloat32(pb.Data, bd)
	}

	return Mono{
		Samples:    Downmix(samples, ch),
		SampleRate: sr,
	}, nil
}

// DecodeMP3 decodes an mp3 stream. go-mp3 always yields 16-bit stereo.
func DecodeMP3(r io.Reader) (Mono, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return Mono{}, fmt.Errorf("mp3: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return Mono{}, fmt.Errorf("mp3: %w", err)
	}
	ints := make([]int16, len(raw)/2)
	if err := binary.Read(bytes.NewReader(raw[:len(ints)*2]), binary.LittleEndian, ints); err != nil {
		return Mono{}, fmt.Errorf("mp3: %w", err)
	}
	return Mono{
		Samples:    Downmix(Int16ToFloat32(ints), 2),
		SampleRate: dec.SampleRate(),
	}, nil
}

func DecodeOggVorbis(r io.Reader) (Mono, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return Mono{}, fmt.Errorf("vorbis: %w", err)
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return Mono{}, errors.New("invalid ogg/vorbis stream")
	}
	return Mono{
		Samples:    Downmix(pcm, format.Channels),
		SampleRate: format.SampleRate,
	}, nil
}

// Int16ToFloat32 scales by 1/32768 so -32768 maps to exactly -1.
func Int16ToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v) / 32768
	}
	return out
}

func intsToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	offset := 0
	if bitDepth == 8 {
		offset = 128
	}
	for i, v := range data {
		out[i] = float32(min(max(float64(v-offset)*scale, -1), 1))
	}
	return out
}

// floatBitsToFloat32 reinterprets 32-bit samples the wav decoder read as
// signed integers. NaN and out-of-range values are clamped.
func floatBitsToFloat32(data []int) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		f := float64(math.Float32frombits(uint32(int32(v))))
		if math.IsNaN(f) {
			f = 0
		}
		out[i] = float32(min(max(f, -1), 1))
	}
	return out
}

// Downmix averages interleaved channels into one.
func Downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	out := make([]float32, len(in)/channels)
	for i := range out {
		var sum float64
		for _, v := range in[i*channels : (i+1)*channels] {
			sum += float64(v)
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

// Resample converts between rates with linear interpolation.
func Resample(in []float32, inRate, outRate int) []float32 {
	if inRate == outRate || inRate <= 0 || outRate <= 0 || len(in) == 0 {
		return in
	}
	ratio := float64(outRate) / float64(inRate)
	out := make([]float32, int(math.Ceil(float64(len(in))*ratio)))
	last := len(in) - 1
	for i := range out {
		pos := float64(i) / ratio
		i0 := int(pos)
		if i0 >= last {
			out[i] = in[last]
			continue
		}
		a := float32(pos - float64(i0))
		out[i] = in[i0]*(1-a) + in[i0+1]*a
	}
	return out
}
