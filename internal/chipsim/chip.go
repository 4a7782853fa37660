// Package chipsim models an MCP2515 at register level behind the SPI
// instruction set. It implements hal.SPI and hal.GPIO so the driver can run
// against it unchanged; tests use it as a transport spy and the gateway uses
// it as a hardware-free link.
package chipsim

import (
	"errors"
	"sync"

	"github.com/kstaniek/go-mcp2515/internal/can"
	"github.com/kstaniek/go-mcp2515/internal/hal"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515/reg"
)

// TxBehavior selects how the simulated bus answers a transmission request.
type TxBehavior int

const (
	// TxAck completes every transmission immediately.
	TxAck TxBehavior = iota
	// TxNoAck leaves TXREQ set forever, as when no node acknowledges.
	TxNoAck
	// TxBusError flags TXERR on the buffer.
	TxBusError
	// TxArbLost flags MLOA on the buffer.
	TxArbLost
)

var (
	ErrNoTransaction = errors.New("chipsim: transfer outside transaction")
	ErrNotReceiving  = errors.New("chipsim: controller not receiving in current mode")
	ErrRejected      = errors.New("chipsim: frame rejected by acceptance filters")
	ErrOverflow      = errors.New("chipsim: receive buffer overflow")
)

// IntVector is the interrupt vector reported for the INT pin.
const IntVector hal.Vector = 1

// maxSent bounds the transmit history kept for Sent.
const maxSent = 256

// Chip is a simulated controller. The zero value is not usable; call New.
type Chip struct {
	// bus is held between Begin and End.
	bus sync.Mutex

	mu   sync.Mutex
	regs [reg.Last + 1]byte

	// command parser state for the open transaction
	open    bool
	pos     int
	instr   byte
	addr    byte
	bmMask  byte
	hasMask bool

	behavior    TxBehavior
	modeLag     int
	lagLeft     int
	pendingMode byte
	modePending bool
	frozenMode  bool
	stickySleep bool

	intPin    int
	handler   func()
	lowTrig   bool
	irqVector hal.Vector
	pins      map[int]hal.Level
	outputs   map[int]bool

	// set when a transaction raised INT; serviced once the bus is released
	irqPending bool

	transactions int
	lastSettings hal.Settings
	sent         []can.Frame
	onTransmit   func(can.Frame)
}

// Option configures a Chip.
type Option func(*Chip)

// WithTxBehavior sets the bus answer to transmissions.
func WithTxBehavior(b TxBehavior) Option { return func(c *Chip) { c.behavior = b } }

// WithModeLag delays a requested mode change until CANSTAT has been read n times.
func WithModeLag(n int) Option { return func(c *Chip) { c.modeLag = n } }

// WithFrozenMode makes the chip ignore every mode request.
func WithFrozenMode() Option { return func(c *Chip) { c.frozenMode = true } }

// WithStickySleep keeps the chip asleep when WAKIF is set, as happens on a
// silent bus.
func WithStickySleep() Option { return func(c *Chip) { c.stickySleep = true } }

// WithIntPin sets the host pin wired to INT.
func WithIntPin(pin int) Option { return func(c *Chip) { c.intPin = pin } }

// WithTransmitHook observes every frame the simulated bus acknowledges. The
// hook runs with the chip locked and must not call back into it.
func WithTransmitHook(fn func(can.Frame)) Option { return func(c *Chip) { c.onTransmit = fn } }

// New returns a chip in its power-on state (Configuration mode).
func New(opts ...Option) *Chip {
	c := &Chip{
		intPin:  -1,
		pins:    make(map[int]hal.Level),
		outputs: make(map[int]bool),
	}
	for _, o := range opts {
		o(c)
	}
	c.powerOn()
	return c
}

func (c *Chip) powerOn() {
	c.regs = [reg.Last + 1]byte{}
	c.regs[reg.CANCTRL] = 0x87
	c.regs[reg.CANSTAT] = reg.ModeConfig
	c.modePending = false
}

// SetTxBehavior changes the bus answer for later transmissions.
func (c *Chip) SetTxBehavior(b TxBehavior) {
	c.mu.Lock()
	c.behavior = b
	c.mu.Unlock()
}

// Peek returns a register without a bus transaction.
func (c *Chip) Peek(addr uint8) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[addr&reg.Last]
}

// Poke sets a register without a bus transaction or side effects.
func (c *Chip) Poke(addr uint8, v byte) {
	c.mu.Lock()
	c.regs[addr&reg.Last] = v
	c.mu.Unlock()
}

// Transactions counts completed and open Begin calls.
func (c *Chip) Transactions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transactions
}

// LastSettings returns the settings of the most recent transaction.
func (c *Chip) LastSettings() hal.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSettings
}

// Sent returns the most recent frames acknowledged on the simulated bus.
func (c *Chip) Sent() []can.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]can.Frame, len(c.sent))
	copy(out, c.sent)
	return out
}

// Mode returns the current operation mode bits (CANSTAT 7..5).
func (c *Chip) Mode() byte { return c.Peek(reg.CANSTAT) & reg.ModeMask }
