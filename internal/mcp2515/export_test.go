package mcp2515

// ResetInterruptSlots releases every slot so tests start from a clean table.
func ResetInterruptSlots() {
	slotMu.Lock()
	defer slotMu.Unlock()
	for i := range interruptSlots {
		interruptSlots[i].Store(nil)
	}
}

// RingIndex exposes the next ring slot to be written.
func (d *Device) RingIndex() int {
	d.irqMu.Lock()
	defer d.irqMu.Unlock()
	return d.ringIdx
}

// Slot exposes the bound interrupt slot (-1 when unbound).
func (d *Device) Slot() int {
	d.irqMu.Lock()
	defer d.irqMu.Unlock()
	return d.slot
}

const TxPollLimit = txPollLimit
