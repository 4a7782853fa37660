// Package idcodec packs CAN identifiers into the MCP2515 four register
// layout (SIDH, SIDL, EID8, EID0) used by transmit buffers, receive buffers,
// acceptance filters and masks.
package idcodec

import (
	"github.com/kstaniek/go-mcp2515/internal/can"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515/reg"
)

// Field is the register image in SIDH, SIDL, EID8, EID0 order.
type Field [4]byte

// EncodeStandard places an 11-bit identifier in SIDH/SIDL. For acceptance
// filters d0 and d1 match the first two data bytes; frames pass zero.
func EncodeStandard(id uint16, d0, d1 byte) Field {
	id &= can.CAN_SFF_MASK
	return Field{
		byte(id >> 3),
		byte(id&0x07) << 5,
		d0,
		d1,
	}
}

// EncodeExtended splits a 29-bit identifier: the high 13 bits go to
// SIDH/SIDL (with EXIDE set), the low 16 bits to EID8/EID0.
func EncodeExtended(id uint32) Field {
	id &= can.CAN_EFF_MASK
	hi := id >> 16
	return Field{
		byte(hi >> 5),
		byte(hi&0x03) | byte(hi&0x1C)<<3 | reg.SIDLExide,
		byte(id >> 8),
		byte(id),
	}
}

// Decode is the inverse of the encoders; CAN_EFF_FLAG is merged in when
// SIDL carries EXIDE.
func Decode(f Field) uint32 {
	id := uint32(f[0])<<3 | uint32(f[1])>>5
	if f[1]&reg.SIDLExide == 0 {
		return id
	}
	id = id<<2 | uint32(f[1]&0x03)
	id = id<<8 | uint32(f[2])
	id = id<<8 | uint32(f[3])
	return id | can.CAN_EFF_FLAG
}

// EncodeFrameID encodes the identifier of a frame per its format flag.
func EncodeFrameID(canID uint32) Field {
	if canID&can.CAN_EFF_FLAG != 0 {
		return EncodeExtended(canID)
	}
	return EncodeStandard(uint16(canID&can.CAN_SFF_MASK), 0, 0)
}
