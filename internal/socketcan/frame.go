// Package socketcan mirrors the controller onto a Linux CAN interface
// (typically vcan) so standard tools such as candump and cansend can watch
// and inject traffic.
package socketcan

import (
	"encoding/binary"
	"fmt"

	"github.com/kstaniek/go-mcp2515/internal/can"
)

// frameSize is sizeof(struct can_frame).
const frameSize = 16

// marshal lays f out as struct can_frame in host byte order.
func marshal(f can.Frame, buf *[frameSize]byte) {
	*buf = [frameSize]byte{}
	binary.NativeEndian.PutUint32(buf[0:4], f.CANID)
	n := min(int(f.Len), can.MaxLen)
	buf[4] = byte(n)
	if !f.Remote() {
		copy(buf[8:], f.Data[:n])
	}
}

func unmarshal(buf []byte, f *can.Frame) error {
	if len(buf) != frameSize {
		return fmt.Errorf("socketcan: short frame (%d bytes)", len(buf))
	}
	*f = can.Frame{CANID: binary.NativeEndian.Uint32(buf[0:4])}
	n := min(int(buf[4]), can.MaxLen)
	f.Len = uint8(n)
	if !f.Remote() {
		copy(f.Data[:], buf[8:8+n])
	}
	return nil
}
