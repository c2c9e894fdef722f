// Package video processes Motion-JPEG streams: scanning frames out of the
// byte stream, running detection on each one and writing an annotated stream
// back out.
package video

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/fruitvision/vision-server/internal/frame"
)

var (
	soiMarker = []byte{0xFF, 0xD8}
	eoiMarker = []byte{0xFF, 0xD9}
)

// ErrNoFrames is returned when a stream contains no decodable JPEG frames.
var ErrNoFrames = errors.New("no frames in video stream")

// Reader extracts JPEG frames from a Motion-JPEG byte stream by scanning
// start-of-image / end-of-image markers.
type Reader struct {
	br  *bufio.Reader
	buf bytes.Buffer
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64<<10)}
}

// Next returns the next frame in the stream, or io.EOF when the stream is
// exhausted. Bytes between frames and chunks that fail to decode are skipped.
func (r *Reader) Next() (*frame.Frame, error) {
	for {
		raw, err := r.nextChunk()
		if err != nil {
			return nil, err
		}
		f, err := frame.Decode(raw)
		if err != nil {
			continue
		}
		return f, nil
	}
}

// nextChunk scans forward to the next SOI marker and accumulates bytes until
// the matching EOI marker.
func (r *Reader) nextChunk() ([]byte, error) {
	if err := r.skipToSOI(); err != nil {
		return nil, err
	}

	r.buf.Reset()
	r.buf.Write(soiMarker)
	prev := byte(0)
	for {
		b, err := r.br.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("reading video stream: %w", err)
		}
		r.buf.WriteByte(b)
		if prev == eoiMarker[0] && b == eoiMarker[1] {
			out := make([]byte, r.buf.Len())
			copy(out, r.buf.Bytes())
			return out, nil
		}
		prev = b
	}
}

func (r *Reader) skipToSOI() error {
	prev := byte(0)
	for {
		b, err := r.br.ReadByte()
		if err != nil {
			if err == io.EOF {
				return io.EOF
			}
			return fmt.Errorf("reading video stream: %w", err)
		}
		if prev == soiMarker[0] && b == soiMarker[1] {
			return nil
		}
		prev = b
	}
}
