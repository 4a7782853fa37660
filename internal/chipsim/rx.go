package chipsim

import (
	"github.com/kstaniek/go-mcp2515/internal/can"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515/idcodec"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515/reg"
)

// Inject delivers a frame from the simulated bus. It runs acceptance
// filtering, stores the frame in RXB0 or RXB1 (rolling over when BUKT is
// set) and raises the INT line if the matching interrupt is enabled.
// It returns the receive buffer used.
func (c *Chip) Inject(fr can.Frame) (int, error) {
	c.mu.Lock()
	switch c.regs[reg.CANSTAT] & reg.ModeMask {
	case reg.ModeConfig, reg.ModeSleep:
		c.mu.Unlock()
		return -1, ErrNotReceiving
	}
	n, err := c.store(fr)
	c.mu.Unlock()
	if err != nil {
		return n, err
	}
	c.Service()
	return n, nil
}

// store places fr in a receive buffer. Caller holds c.mu.
func (c *Chip) store(fr can.Frame) (int, error) {
	intf := c.regs[reg.CANINTF]
	if c.accepts(0, fr) {
		if intf&reg.IntRX0 == 0 {
			c.load(0, fr)
			return 0, nil
		}
		if c.regs[reg.RXB0CTRL]&reg.RxBUKT != 0 && intf&reg.IntRX1 == 0 {
			c.load(1, fr)
			return 1, nil
		}
		c.overflow(reg.EflgRX0OVR)
		return -1, ErrOverflow
	}
	if c.accepts(1, fr) {
		if intf&reg.IntRX1 == 0 {
			c.load(1, fr)
			return 1, nil
		}
		c.overflow(reg.EflgRX1OVR)
		return -1, ErrOverflow
	}
	return -1, ErrRejected
}

func (c *Chip) overflow(bit byte) {
	c.regs[reg.EFLG] |= bit
	c.regs[reg.CANINTF] |= reg.IntERR
}

func (c *Chip) load(n int, fr can.Frame) {
	ctrl := reg.RxBuffers[n]
	field := idcodec.EncodeFrameID(fr.CANID)
	copy(c.regs[ctrl+reg.OffSIDH:], field[:])
	dlc := fr.Len & reg.DLCMask
	c.regs[ctrl] &^= reg.RxRTR
	if fr.Remote() {
		if fr.Extended() {
			dlc |= reg.DLCRtr
		} else {
			c.regs[ctrl] |= reg.RxRTR
		}
	}
	c.regs[ctrl+reg.OffDLC] = dlc
	copy(c.regs[ctrl+reg.OffData0:ctrl+reg.OffData0+can.MaxLen], fr.Data[:])
	c.regs[reg.CANINTF] |= reg.IntRX0 << uint(n)
}

// accepts applies the mask and filters guarding receive buffer n.
func (c *Chip) accepts(n int, fr can.Frame) bool {
	rxm := c.regs[reg.RxBuffers[n]] & reg.RxMMask
	if rxm == reg.RxMMask {
		return true
	}
	mask := c.field(reg.Masks[n])
	if mask == (idcodec.Field{}) {
		return true
	}
	filters := reg.Filters[:2]
	if n == 1 {
		filters = reg.Filters[2:]
	}
	for _, base := range filters {
		if match(mask, c.field(base), fr) {
			return true
		}
	}
	return false
}

func (c *Chip) field(base byte) idcodec.Field {
	var f idcodec.Field
	copy(f[:], c.regs[base:base+4])
	return f
}

// match compares a frame against one filter under a mask. For standard
// frames EID8/EID0 are matched against the first two data bytes.
func match(mask, filter idcodec.Field, fr can.Frame) bool {
	if (filter[1]&reg.SIDLExide != 0) != fr.Extended() {
		return false
	}
	msid, mext := split(mask)
	fsid, fext := split(filter)
	var sid, ext uint32
	if fr.Extended() {
		id := fr.CANID & can.CAN_EFF_MASK
		sid, ext = id>>18, id&0x3FFFF
	} else {
		sid = fr.CANID & can.CAN_SFF_MASK
		ext = uint32(fr.Data[0])<<8 | uint32(fr.Data[1])
		mext &= 0xFFFF
	}
	return (sid^fsid)&msid == 0 && (ext^fext)&mext == 0
}

func split(f idcodec.Field) (sid, ext uint32) {
	sid = uint32(f[0])<<3 | uint32(f[1])>>5
	ext = uint32(f[1]&0x03)<<16 | uint32(f[2])<<8 | uint32(f[3])
	return sid, ext
}
