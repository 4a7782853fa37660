package chipsim

import (
	"fmt"

	"github.com/kstaniek/go-mcp2515/internal/hal"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515/reg"
)

// maxServiceRounds bounds level-triggered redelivery while INT stays low.
const maxServiceRounds = 8

func (c *Chip) ConfigureOutput(pin int) error {
	c.mu.Lock()
	c.outputs[pin] = true
	c.mu.Unlock()
	return nil
}

func (c *Chip) SetLevel(pin int, l hal.Level) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.outputs[pin] {
		return fmt.Errorf("chipsim: pin %d is not an output", pin)
	}
	c.pins[pin] = l
	return nil
}

// Level returns the last level driven on an output pin.
func (c *Chip) Level(pin int) hal.Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pins[pin]
}

func (c *Chip) InterruptVector(pin int) (hal.Vector, bool) {
	if c.intPin < 0 || pin != c.intPin {
		return 0, false
	}
	return IntVector, true
}

func (c *Chip) AttachInterrupt(v hal.Vector, handler func(), triggerOnLow bool) error {
	if v != IntVector {
		return fmt.Errorf("chipsim: unknown vector %d", v)
	}
	c.mu.Lock()
	c.handler = handler
	c.lowTrig = triggerOnLow
	c.mu.Unlock()
	return nil
}

// IntAsserted reports whether the INT line is driven low.
func (c *Chip) IntAsserted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intAsserted()
}

func (c *Chip) intAsserted() bool {
	return c.regs[reg.CANINTF]&c.regs[reg.CANINTE] != 0
}

// Service runs the attached handler while INT is asserted, like a level
// triggered interrupt line. It runs on the caller's goroutine.
func (c *Chip) Service() {
	for i := 0; i < maxServiceRounds; i++ {
		c.mu.Lock()
		h, asserted := c.handler, c.intAsserted()
		low := c.lowTrig
		c.mu.Unlock()
		if h == nil || !asserted {
			return
		}
		h()
		if !low {
			return
		}
	}
}
