package mcp2515

import (
	"fmt"

	"github.com/kstaniek/go-mcp2515/internal/mcp2515/idcodec"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515/reg"
)

// RxMode selects how a receive buffer applies acceptance filtering.
type RxMode uint8

const (
	// RxFiltered accepts frames matching the buffer's mask and filters.
	RxFiltered RxMode = 0x00
	// RxAny accepts every frame and ignores the filters.
	RxAny RxMode = reg.RxMMask
)

// SetFilter programs standard acceptance filter n (0..5). d0 and d1 are
// matched against the first two data bytes of standard frames.
func (d *Device) SetFilter(n int, id uint16, d0, d1 byte) error {
	if n < 0 || n >= len(reg.Filters) {
		return fmt.Errorf("%w: filter %d out of range", ErrFail, n)
	}
	return d.writeAcceptance(reg.Filters[n], idcodec.EncodeStandard(id, d0, d1))
}

// SetExtFilter programs extended acceptance filter n (0..5).
func (d *Device) SetExtFilter(n int, id uint32) error {
	if n < 0 || n >= len(reg.Filters) {
		return fmt.Errorf("%w: filter %d out of range", ErrFail, n)
	}
	return d.writeAcceptance(reg.Filters[n], idcodec.EncodeExtended(id))
}

// SetMask programs acceptance mask n (0 guards RXB0, 1 guards RXB1).
func (d *Device) SetMask(n int, id uint16, d0, d1 byte) error {
	if n < 0 || n >= len(reg.Masks) {
		return fmt.Errorf("%w: mask %d out of range", ErrFail, n)
	}
	return d.writeAcceptance(reg.Masks[n], idcodec.EncodeStandard(id, d0, d1))
}

// SetExtMask programs acceptance mask n with a 29-bit pattern.
func (d *Device) SetExtMask(n int, id uint32) error {
	if n < 0 || n >= len(reg.Masks) {
		return fmt.Errorf("%w: mask %d out of range", ErrFail, n)
	}
	return d.writeAcceptance(reg.Masks[n], idcodec.EncodeExtended(id))
}

func (d *Device) writeAcceptance(base uint8, f idcodec.Field) error {
	return d.withConfigMode(func() error {
		return d.WriteRegisters(base, f[:])
	})
}

// SetRxMode sets the RXM bits of receive buffer buf.
func (d *Device) SetRxMode(buf RxBuffer, m RxMode) error {
	if buf != RxB0 && buf != RxB1 {
		return fmt.Errorf("%w: receive buffer %d out of range", ErrFail, int(buf))
	}
	if m != RxFiltered && m != RxAny {
		return fmt.Errorf("%w: receive mode 0x%02X", ErrFail, uint8(m))
	}
	return d.ModifyRegister(reg.RxBuffers[buf], reg.RxMMask, byte(m))
}
