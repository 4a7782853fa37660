package mcp2515

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-mcp2515/internal/can"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515/reg"
)

// RingSize is the number of frames kept for interrupt driven delivery.
// The callback receives a pointer into the ring; the slot is overwritten
// RingSize receptions later, so callers copy what they keep.
const RingSize = 4

// maxInterruptSlots is the number of handler trampolines compiled in.
const maxInterruptSlots = 4

// ReceiveFunc is called from interrupt context with each received frame.
// No driver lock is held, so it may call back into the Device.
type ReceiveFunc func(*can.Frame)

var (
	slotMu         sync.Mutex
	interruptSlots [maxInterruptSlots]atomic.Pointer[Device]
)

// Handlers registered with the GPIO layer carry no arguments, so each slot
// gets its own entry point.
var trampolines = [maxInterruptSlots]func(){
	func() { dispatch(0) },
	func() { dispatch(1) },
	func() { dispatch(2) },
	func() { dispatch(3) },
}

func dispatch(i int) {
	if d := interruptSlots[i].Load(); d != nil {
		d.handleInterrupt()
	}
}

// slotCapacity is how many slots the build target can service.
func (d *Device) slotCapacity() int {
	return min(d.platform.InterruptSlots(), maxInterruptSlots)
}

// claimSlot returns the slot bound to d, or binds the first free one and
// reports fresh. It returns -1 when every slot is taken. Caller holds slotMu.
func (d *Device) claimSlot() (int, bool) {
	capacity := d.slotCapacity()
	for i := 0; i < capacity; i++ {
		if interruptSlots[i].Load() == d {
			return i, false
		}
	}
	for i := 0; i < capacity; i++ {
		if interruptSlots[i].CompareAndSwap(nil, d) {
			return i, true
		}
	}
	return -1, false
}

// restoreRxInterrupts re-enables the receive interrupts masked while a
// handler was being installed.
func (d *Device) restoreRxInterrupts() {
	if err := d.ModifyRegister(reg.CANINTE, reg.IntRXMask, reg.IntRXMask); err != nil {
		d.log.Warn("mcp2515_irq_restore_failed", "error", err)
	}
}

// AttachReceiveCallback delivers every received frame to fn from the
// interrupt on pin (the host pin wired to INT). Receive interrupts are
// masked while the handler is installed. Calling it again on the same
// device rebinds the callback without using another slot.
func (d *Device) AttachReceiveCallback(pin int, fn ReceiveFunc) error {
	if fn == nil {
		return errors.New("mcp2515: nil receive callback")
	}
	if d.gpio == nil {
		return ErrInvalidInterrupt
	}
	v, ok := d.gpio.InterruptVector(pin)
	if !ok {
		return ErrInvalidInterrupt
	}
	d.spi.UsingInterrupt(v)
	if err := d.ModifyRegister(reg.CANINTE, reg.IntRXMask, 0); err != nil {
		return err
	}

	slotMu.Lock()
	i, fresh := d.claimSlot()
	slotMu.Unlock()
	if i < 0 {
		d.restoreRxInterrupts()
		return ErrNoInterruptSlots
	}
	if err := d.gpio.AttachInterrupt(v, trampolines[i], true); err != nil {
		if fresh {
			interruptSlots[i].CompareAndSwap(d, nil)
		}
		d.restoreRxInterrupts()
		return transportErr("attach interrupt", err)
	}

	d.irqMu.Lock()
	d.ringIdx = 0
	d.onRecv = fn
	d.slot = i
	d.irqMu.Unlock()

	if err := d.WriteRegister(reg.CANINTF, 0); err != nil {
		return err
	}
	if err := d.ModifyRegister(reg.CANINTE, reg.IntRXMask, reg.IntRXMask); err != nil {
		return err
	}
	d.log.Debug("mcp2515_irq_attached", "pin", pin, "vector", int(v), "slot", i)
	return nil
}

// handleInterrupt services one assertion of INT: non-receive flags are
// cleared and one pending frame is delivered through the ring. The callback
// runs without irqMu held.
func (d *Device) handleInterrupt() {
	fn, fr := d.serviceInterrupt()
	if fn != nil {
		fn(fr)
	}
}

func (d *Device) serviceInterrupt() (ReceiveFunc, *can.Frame) {
	d.irqMu.Lock()
	defer d.irqMu.Unlock()
	intf, err := d.ReadRegister(reg.CANINTF)
	if err != nil {
		d.log.Warn("mcp2515_irq_read_failed", "error", err)
		return nil, nil
	}
	if intf&reg.IntNonRXMask != 0 {
		if err := d.ModifyRegister(reg.CANINTF, reg.IntNonRXMask, 0); err != nil {
			d.log.Warn("mcp2515_irq_clear_failed", "error", err)
		}
	}
	if intf&reg.IntRXMask == 0 {
		return nil, nil
	}
	fr, err := d.Receive()
	if err != nil {
		if !errors.Is(err, ErrNoMessage) {
			d.log.Warn("mcp2515_irq_receive_failed", "error", err)
		}
		return nil, nil
	}
	slot := &d.ring[d.ringIdx]
	*slot = fr
	d.ringIdx = (d.ringIdx + 1) % RingSize
	return d.onRecv, slot
}
