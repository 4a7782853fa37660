// Package cnl implements the cannelloni TCP framing used between the gateway
// and its clients: per frame a big endian can_id (SocketCAN flag bits
// included), one length byte and, for data frames only, the payload.
package cnl

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/kstaniek/go-mcp2515/internal/can"
	"github.com/kstaniek/go-mcp2515/internal/metrics"
)

// lenMask strips the CAN FD flag bit of the length byte; FD frames are
// rejected by the length check.
const lenMask = 0x7F

// maxWire is the largest encoded frame.
const maxWire = 4 + 1 + can.MaxLen

var (
	// ErrInvalidLength is returned for a length byte above 8.
	ErrInvalidLength = errors.New("cannelloni: invalid length")
	// ErrTruncatedFrame is returned when the stream ends inside a frame.
	ErrTruncatedFrame = errors.New("cannelloni: truncated frame")
)

// Codec is stateless and safe for concurrent use.
type Codec struct{}

// AppendFrame appends the wire form of f to dst.
func AppendFrame(dst []byte, f can.Frame) []byte {
	dst = binary.BigEndian.AppendUint32(dst, f.CANID)
	n := min(int(f.Len), can.MaxLen)
	dst = append(dst, byte(n))
	if !f.Remote() {
		dst = append(dst, f.Data[:n]...)
	}
	return dst
}

// Encode packs frames back to back.
func (c *Codec) Encode(frames []can.Frame) []byte {
	if len(frames) == 0 {
		return nil
	}
	buf := make([]byte, 0, len(frames)*maxWire)
	for _, f := range frames {
		buf = AppendFrame(buf, f)
	}
	return buf
}

// EncodeTo writes frames to w in one Write and reports the bytes written.
func (c *Codec) EncodeTo(w io.Writer, frames []can.Frame) (int, error) {
	if len(frames) == 0 {
		return 0, nil
	}
	n, err := w.Write(c.Encode(frames))
	if err != nil {
		return n, fmt.Errorf("cannelloni encode: %w", err)
	}
	return n, nil
}

// Decode reads one frame. A clean end of stream before the first byte is
// reported as io.EOF; an end inside the frame as ErrTruncatedFrame.
func (c *Codec) Decode(r io.Reader) (can.Frame, error) {
	var f can.Frame
	var hdr [5]byte
	if n, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return f, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			metrics.IncMalformed()
			return f, fmt.Errorf("cannelloni decode header: %w", ErrTruncatedFrame)
		}
		return f, err
	}
	f.CANID = binary.BigEndian.Uint32(hdr[:4])
	ln := int(hdr[4] & lenMask)
	if ln > can.MaxLen {
		metrics.IncMalformed()
		return f, fmt.Errorf("cannelloni decode: %w (%d)", ErrInvalidLength, ln)
	}
	f.Len = uint8(ln)
	if f.Remote() || ln == 0 {
		return f, nil
	}
	if _, err := io.ReadFull(r, f.Data[:ln]); err != nil {
		metrics.IncMalformed()
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return f, fmt.Errorf("cannelloni decode payload: %w", ErrTruncatedFrame)
		}
		return f, fmt.Errorf("cannelloni decode payload: %w", err)
	}
	return f, nil
}

// DecodeN decodes up to max frames (all when max <= 0) and hands each to
// onFrame. It returns the count and the error that stopped it, io.EOF at a
// clean end.
func (c *Codec) DecodeN(r io.Reader, max int, onFrame func(can.Frame)) (int, error) {
	n := 0
	for max <= 0 || n < max {
		fr, err := c.Decode(r)
		if err != nil {
			return n, err
		}
		onFrame(fr)
		n++
	}
	return n, nil
}
