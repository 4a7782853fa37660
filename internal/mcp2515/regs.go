package mcp2515

import (
	"fmt"

	"github.com/kstaniek/go-mcp2515/internal/hal"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515/reg"
)

// maxBlock is the longest register run moved in one transaction
// (a transmit buffer image: four ID registers, DLC and eight data bytes).
const maxBlock = 13

// resetSettle is how long the oscillator needs after RESET.
const resetSettle = 10 // ms

// transact runs fn inside one chip select frame. Every register operation
// goes through here so command bytes never interleave.
func (d *Device) transact(fn func() error) error {
	if err := d.spi.Begin(d.settings); err != nil {
		return transportErr("begin", err)
	}
	if !d.cfg.HardwareCS {
		if err := d.gpio.SetLevel(d.cfg.CSPin, hal.Low); err != nil {
			_ = d.spi.End()
			return transportErr("cs low", err)
		}
	}
	err := fn()
	if !d.cfg.HardwareCS {
		if cerr := d.gpio.SetLevel(d.cfg.CSPin, hal.High); cerr != nil && err == nil {
			err = cerr
		}
	}
	if eerr := d.spi.End(); eerr != nil && err == nil {
		err = eerr
	}
	if err != nil {
		return transportErr("transfer", err)
	}
	return nil
}

func (d *Device) block(tx, rx []byte) error {
	return d.transact(func() error { return d.spi.TransferBlock(tx, rx) })
}

// ReadRegister returns one register.
func (d *Device) ReadRegister(addr uint8) (byte, error) {
	tx := [3]byte{reg.Read, addr, reg.Dummy}
	var rx [3]byte
	if err := d.block(tx[:], rx[:]); err != nil {
		return 0, err
	}
	return rx[2], nil
}

// ReadRegisters returns n consecutive registers starting at addr.
func (d *Device) ReadRegisters(addr uint8, n int) ([]byte, error) {
	out := make([]byte, n)
	if err := d.readInto(addr, out); err != nil {
		return nil, err
	}
	return out, nil
}

// readInto fills dst from consecutive registers using the chip's address
// auto-increment.
func (d *Device) readInto(addr uint8, dst []byte) error {
	n := len(dst)
	if n == 0 {
		return nil
	}
	if n > maxBlock {
		return fmt.Errorf("%w: read of %d registers exceeds %d", ErrFail, n, maxBlock)
	}
	var tx, rx [2 + maxBlock]byte
	tx[0], tx[1] = reg.Read, addr
	if err := d.block(tx[:2+n], rx[:2+n]); err != nil {
		return err
	}
	copy(dst, rx[2:2+n])
	return nil
}

// WriteRegister sets one register.
func (d *Device) WriteRegister(addr, v uint8) error {
	tx := [3]byte{reg.Write, addr, v}
	return d.block(tx[:], nil)
}

// WriteRegisters writes vs to consecutive registers starting at addr.
func (d *Device) WriteRegisters(addr uint8, vs []byte) error {
	n := len(vs)
	if n == 0 {
		return nil
	}
	if n > maxBlock {
		return fmt.Errorf("%w: write of %d registers exceeds %d", ErrFail, n, maxBlock)
	}
	var tx [2 + maxBlock]byte
	tx[0], tx[1] = reg.Write, addr
	copy(tx[2:], vs)
	return d.block(tx[:2+n], nil)
}

// ModifyRegister changes only the bits of addr selected by mask.
func (d *Device) ModifyRegister(addr, mask, v uint8) error {
	tx := [4]byte{reg.BitModify, addr, mask, v}
	return d.block(tx[:], nil)
}

// ReadStatus issues READ STATUS (RX/TX flags in one byte).
func (d *Device) ReadStatus() (byte, error) { return d.quick(reg.ReadStatus) }

// ReadRxStatus issues RX STATUS.
func (d *Device) ReadRxStatus() (byte, error) { return d.quick(reg.RxStatus) }

func (d *Device) quick(instr byte) (byte, error) {
	tx := [2]byte{instr, reg.Dummy}
	var rx [2]byte
	if err := d.block(tx[:], rx[:]); err != nil {
		return 0, err
	}
	return rx[1], nil
}

// Reset issues the RESET instruction and waits for the chip to settle.
// The chip comes back in Configuration mode with every register at its
// power-on value.
func (d *Device) Reset() error {
	err := d.transact(func() error {
		_, err := d.spi.Transfer(reg.Reset)
		return err
	})
	if err != nil {
		return err
	}
	d.clock.DelayMilliseconds(resetSettle)
	return nil
}

// CheckRegisterWritable fails for filter, mask and bit timing registers
// while the chip is outside Configuration mode.
func (d *Device) CheckRegisterWritable(addr uint8) error {
	m, err := d.Mode()
	if err != nil {
		return err
	}
	if m == ModeConfig || !reg.ConfigOnly(addr) {
		return nil
	}
	return fmt.Errorf("%w: register 0x%02X is writable only in configuration mode (mode %s)", ErrFail, addr, m)
}
