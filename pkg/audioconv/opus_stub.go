//go:build !opus

package audioconv

import (
	"fmt"
	"io"
)

func decodeOggOpus(io.Reader) (Mono, error) {
	return Mono{}, fmt.Errorf("%w: opus support requires building with -tags opus", ErrUnsupported)
}
