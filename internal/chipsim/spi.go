package chipsim

import (
	"github.com/kstaniek/go-mcp2515/internal/can"
	"github.com/kstaniek/go-mcp2515/internal/hal"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515/idcodec"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515/reg"
)

func (c *Chip) Begin(s hal.Settings) error {
	c.bus.Lock()
	c.mu.Lock()
	c.transactions++
	c.lastSettings = s
	c.open = true
	c.pos = 0
	c.mu.Unlock()
	return nil
}

// End closes the transaction. A frame looped back during it raises INT
// here, after the bus is free for the handler.
func (c *Chip) End() error {
	c.mu.Lock()
	c.open = false
	pending := c.irqPending
	c.irqPending = false
	c.mu.Unlock()
	c.bus.Unlock()
	if pending {
		c.Service()
	}
	return nil
}

func (c *Chip) Transfer(b byte) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return 0, ErrNoTransaction
	}
	return c.clock(b), nil
}

func (c *Chip) TransferBlock(tx, rx []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return ErrNoTransaction
	}
	for i, b := range tx {
		out := c.clock(b)
		if i < len(rx) {
			rx[i] = out
		}
	}
	return nil
}

func (c *Chip) UsingInterrupt(v hal.Vector) {
	c.mu.Lock()
	c.irqVector = v
	c.mu.Unlock()
}

// clock shifts one byte through the command parser and returns the byte the
// chip drives on SO. Caller holds c.mu.
func (c *Chip) clock(in byte) byte {
	pos := c.pos
	c.pos++
	if pos == 0 {
		c.instr = in
		c.hasMask = false
		if in == reg.Reset {
			c.powerOn()
		}
		return 0
	}
	switch c.instr {
	case reg.Read:
		if pos == 1 {
			c.addr = in & reg.Last
			return 0
		}
		v := c.readReg(c.addr)
		c.addr = (c.addr + 1) & reg.Last
		return v
	case reg.Write:
		if pos == 1 {
			c.addr = in & reg.Last
			return 0
		}
		c.writeReg(c.addr, in, 0xFF)
		c.addr = (c.addr + 1) & reg.Last
		return 0
	case reg.BitModify:
		switch pos {
		case 1:
			c.addr = in & reg.Last
		case 2:
			c.bmMask = in
			c.hasMask = true
		case 3:
			if c.hasMask {
				c.writeReg(c.addr, in, c.bmMask)
			}
		}
		return 0
	case reg.ReadStatus:
		return c.status()
	case reg.RxStatus:
		return c.rxStatus()
	}
	return 0
}

func (c *Chip) readReg(addr byte) byte {
	if addr == reg.CANSTAT && c.modePending {
		if c.lagLeft == 0 {
			c.applyMode(c.pendingMode)
		} else {
			c.lagLeft--
		}
	}
	return c.regs[addr]
}

func (c *Chip) writeReg(addr, v, mask byte) {
	cur := c.regs[addr]
	if reg.ConfigOnly(addr) && c.regs[reg.CANSTAT]&reg.ModeMask != reg.ModeConfig {
		return
	}
	next := cur&^mask | v&mask
	c.regs[addr] = next
	switch addr {
	case reg.CANCTRL:
		c.requestMode(next & reg.ModeMask)
	case reg.CANINTF:
		if next&reg.IntWAK != 0 && cur&reg.IntWAK == 0 {
			c.wake()
		}
	case reg.TXB0CTRL, reg.TXB1CTRL, reg.TXB2CTRL:
		if next&reg.TxREQ != 0 && cur&reg.TxREQ == 0 {
			c.transmit(int(addr>>4) - 3)
		}
	}
}

func (c *Chip) requestMode(m byte) {
	if c.frozenMode {
		return
	}
	if c.modeLag == 0 {
		c.applyMode(m)
		return
	}
	if c.modePending && c.pendingMode == m {
		return
	}
	c.pendingMode = m
	c.modePending = true
	c.lagLeft = c.modeLag
}

func (c *Chip) applyMode(m byte) {
	c.modePending = false
	c.regs[reg.CANSTAT] = c.regs[reg.CANSTAT]&^reg.ModeMask | m
}

// wake models the WAKIF-induced exit from Sleep into Listen-Only.
func (c *Chip) wake() {
	if c.regs[reg.CANSTAT]&reg.ModeMask != reg.ModeSleep || c.stickySleep || c.frozenMode {
		return
	}
	if c.regs[reg.CANINTE]&reg.IntWAK == 0 {
		return
	}
	c.applyMode(reg.ModeListenOnly)
}

func (c *Chip) transmit(n int) {
	ctrl := reg.TxBuffers[n]
	switch c.behavior {
	case TxNoAck:
		return
	case TxBusError:
		c.regs[ctrl] |= reg.TxERR
		return
	case TxArbLost:
		c.regs[ctrl] |= reg.TxMLOA
		return
	}
	fr := c.bufferFrame(ctrl)
	c.regs[ctrl] &^= reg.TxREQ
	c.regs[reg.CANINTF] |= reg.TxInt(n)
	c.sent = append(c.sent, fr)
	if len(c.sent) > maxSent {
		c.sent = append(c.sent[:0], c.sent[len(c.sent)-maxSent:]...)
	}
	if c.regs[reg.CANSTAT]&reg.ModeMask == reg.ModeLoopback {
		if _, err := c.store(fr); err == nil {
			c.irqPending = true
		}
	}
	if c.onTransmit != nil {
		c.onTransmit(fr)
	}
}

func (c *Chip) bufferFrame(ctrl byte) can.Frame {
	var fr can.Frame
	var f idcodec.Field
	copy(f[:], c.regs[ctrl+reg.OffSIDH:ctrl+reg.OffDLC])
	fr.CANID = idcodec.Decode(f)
	dlc := c.regs[ctrl+reg.OffDLC]
	if dlc&reg.DLCRtr != 0 {
		fr.CANID |= can.CAN_RTR_FLAG
	}
	n := dlc & reg.DLCMask
	if n > can.MaxLen {
		n = can.MaxLen
	}
	fr.Len = n
	copy(fr.Data[:n], c.regs[ctrl+reg.OffData0:])
	return fr
}

// status assembles the READ STATUS byte.
func (c *Chip) status() byte {
	intf := c.regs[reg.CANINTF]
	s := intf & reg.IntRXMask
	for i, ctrl := range reg.TxBuffers {
		if c.regs[ctrl]&reg.TxREQ != 0 {
			s |= 0x04 << (2 * uint(i))
		}
		if intf&reg.TxInt(i) != 0 {
			s |= 0x08 << (2 * uint(i))
		}
	}
	return s
}

func (c *Chip) rxStatus() byte {
	intf := c.regs[reg.CANINTF]
	var s byte
	if intf&reg.IntRX0 != 0 {
		s |= reg.RxStatusRXB0
	}
	if intf&reg.IntRX1 != 0 {
		s |= reg.RxStatusRXB1
	}
	return s
}
