package network

import (
	"bufio"
	"errors"
	"io"
)

// SLIP (RFC 1055) framing bytes. OSC over serial lines sends each packet as
// one SLIP frame, usually with an END byte on both sides.
const (
	slipEnd    = 0xC0
	slipEsc    = 0xDB
	slipEscEnd = 0xDC
	slipEscEsc = 0xDD
)

// ErrSLIPEscape reports an escape byte followed by something other than
// ESC_END or ESC_ESC. The damaged frame is discarded.
var ErrSLIPEscape = errors.New("slip: invalid escape sequence")

// SLIPReader splits a byte stream into SLIP frames.
type SLIPReader struct {
	r   *bufio.Reader
	max int
}

// NewSLIPReader reads frames from r. Frames longer than maxSize bytes are
// reported with ErrDatagramTooLarge and skipped.
func NewSLIPReader(r io.Reader, maxSize int) *SLIPReader {
	return &SLIPReader{r: bufio.NewReader(r), max: maxSize}
}

// ReadFrame returns the next non-empty frame. The returned slice is owned by
// the caller. Errors other than io.EOF and read failures leave the reader
// positioned at the start of the next frame.
func (s *SLIPReader) ReadFrame() ([]byte, error) {
	var (
		frame   []byte
		escaped bool
		bad     error
	)
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(frame) > 0 && bad == nil {
				return frame, nil
			}
			return nil, err
		}

		if b == slipEnd {
			if bad != nil {
				return nil, bad
			}
			if len(frame) == 0 {
				continue
			}
			return frame, nil
		}
		if bad != nil {
			continue
		}

		if escaped {
			escaped = false
			switch b {
			case slipEscEnd:
				b = slipEnd
			case slipEscEsc:
				b = slipEsc
			default:
				bad = ErrSLIPEscape
				continue
			}
		} else if b == slipEsc {
			escaped = true
			continue
		}

		if len(frame) >= s.max {
			bad = ErrDatagramTooLarge
			frame = nil
			continue
		}
		frame = append(frame, b)
	}
}
