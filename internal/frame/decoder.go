// Package frame decodes inbound image payloads into pixel buffers.
//
// Payloads arrive either as raw encoded bytes (multipart uploads) or as
// strings over the WebSocket relay: hex (the browser client's default),
// a base64 data URL, or bare base64.
package frame

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
)

// ErrDecode marks any payload that could not be decoded into an image.
// Callers test with errors.Is; the wrapped message carries the cause.
var ErrDecode = errors.New("frame decode failed")

// Frame is a single decoded image. Ephemeral: created per inbound message,
// discarded after inference.
type Frame struct {
	Image  image.Image
	Width  int
	Height int
}

// Decode converts raw encoded image bytes (JPEG, PNG, GIF) into a Frame.
// Pure function of its input; a malformed or truncated payload yields an
// error wrapping ErrDecode and never a partial Frame.
func Decode(payload []byte) (*Frame, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	bounds := img.Bounds()
	return &Frame{
		Image:  img,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

// DecodeString converts a string-encoded frame into a Frame. Accepted
// encodings, tried in order of declaration: a base64 data URL
// ("data:image/...;base64,..."), a hex string, or bare base64.
func DecodeString(s string) (*Frame, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}

	if strings.HasPrefix(s, "data:") {
		idx := strings.Index(s, ";base64,")
		if idx < 0 {
			return nil, fmt.Errorf("%w: data URL without base64 payload", ErrDecode)
		}
		raw, err := base64.StdEncoding.DecodeString(s[idx+len(";base64,"):])
		if err != nil {
			return nil, fmt.Errorf("%w: invalid base64 data URL: %v", ErrDecode, err)
		}
		return Decode(raw)
	}

	if raw, err := hex.DecodeString(s); err == nil {
		return Decode(raw)
	}

	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: payload is neither hex nor base64", ErrDecode)
	}
	return Decode(raw)
}
