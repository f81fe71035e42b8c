//go:build opus

package audioconv

import (
	"bytes"
	"io"

	popus "github.com/pekim/opus"
)

const opusRate = 48000

func decodeOggOpus(r io.Reader) (Mono, error) {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		b, err := io.ReadAll(r)
		if err != nil {
			return Mono{}, err
		}
		rs = bytes.NewReader(b)
	}

	dec, err := popus.NewDecoder(rs)
	if err != nil {
		return Mono{}, err
	}
	defer dec.Destroy()

	ch := max(dec.ChannelCount(), 1)

	var (
		pcm []float32
		buf = make([]int16, opusRate*ch/2)
	)
	for {
		// n is samples per channel
		n, err := dec.Read(buf)
		if n > 0 {
			pcm = append(pcm, Int16ToFloat32(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Mono{}, err
		}
	}

	return Mono{Samples: Downmix(pcm, ch), SampleRate: opusRate}, nil
}
