package can

import "fmt"

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// MaxLen is the classic CAN payload limit.
const MaxLen = 8

// Frame is one classic CAN message.
// CANID carries EFF/RTR/ERR flags in its upper bits like SocketCAN.
// Len is payload length (0..8); only the first Len bytes of Data are valid.
// Buffer is the controller receive buffer that produced the frame and is
// meaningless for frames built by callers.
type Frame struct {
	CANID  uint32
	Len    uint8
	Data   [MaxLen]byte
	Buffer uint8
}

// Extended reports whether the frame uses a 29-bit identifier.
func (f *Frame) Extended() bool { return f.CANID&CAN_EFF_FLAG != 0 }

// Remote reports whether the frame is a remote transmission request.
func (f *Frame) Remote() bool { return f.CANID&CAN_RTR_FLAG != 0 }

// ID returns the bare identifier without flag bits.
func (f *Frame) ID() uint32 {
	if f.Extended() {
		return f.CANID & CAN_EFF_MASK
	}
	return f.CANID & CAN_SFF_MASK
}

// Payload returns the valid data bytes.
func (f *Frame) Payload() []byte {
	n := int(f.Len)
	if n > MaxLen {
		n = MaxLen
	}
	return f.Data[:n]
}

func (f Frame) String() string {
	kind := "std"
	if f.Extended() {
		kind = "ext"
	}
	if f.Remote() {
		return fmt.Sprintf("%s 0x%X rtr len=%d", kind, f.ID(), f.Len)
	}
	return fmt.Sprintf("%s 0x%X [% X]", kind, f.ID(), f.Payload())
}

// NewStandard builds a data frame with an 11-bit identifier.
func NewStandard(id uint16, data []byte) Frame {
	var f Frame
	f.CANID = uint32(id) & CAN_SFF_MASK
	f.Len = uint8(copy(f.Data[:], data))
	return f
}

// NewExtended builds a data frame with a 29-bit identifier.
func NewExtended(id uint32, data []byte) Frame {
	var f Frame
	f.CANID = id&CAN_EFF_MASK | CAN_EFF_FLAG
	f.Len = uint8(copy(f.Data[:], data))
	return f
}
