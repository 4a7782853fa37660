// Package buspirate drives an MCP2515 through a Bus Pirate in binary SPI
// mode over a serial port. Chip select is the Bus Pirate CS line, exposed
// as GPIO pin CSPin; there are no interrupt vectors, so receive runs polled.
package buspirate

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/kstaniek/go-mcp2515/internal/hal"
	"github.com/kstaniek/go-mcp2515/internal/logging"
)

// CSPin is the pin number standing for the Bus Pirate CS output.
const CSPin = 0

const (
	defaultBaud  = 115200
	readTimeout  = 100 * time.Millisecond
	enterRetries = 20
	maxChunk     = 16
	maxIdleReads = 5
)

// Binary mode commands.
const (
	cmdReset    = 0x00
	cmdSPI      = 0x01
	cmdCSLow    = 0x02
	cmdCSHigh   = 0x03
	cmdExit     = 0x0F
	cmdBulk     = 0x10
	cmdPeriph   = 0x40
	cmdSpeed    = 0x60
	cmdConfig   = 0x80
	periphPower = 0x08
	periphCS    = 0x01
	cfgPushPull = 0x08
	cfgCKP      = 0x04
	cfgCKE      = 0x02
	ack         = 0x01
)

var (
	// ErrNoResponse means the Bus Pirate did not answer a command.
	ErrNoResponse = errors.New("buspirate: no response")
	// ErrNoInterrupts is returned by AttachInterrupt.
	ErrNoInterrupts = errors.New("buspirate: interrupts not supported")
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// openPort is a test hook.
var openPort = func(name string, baud int) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}

// speeds lists the SPI clock codes in ascending order.
var speeds = [...]uint32{30_000, 125_000, 250_000, 1_000_000, 2_000_000, 2_600_000, 4_000_000, 8_000_000}

// speedCode picks the fastest Bus Pirate clock not above hz.
func speedCode(hz uint32) byte {
	code := 0
	for i, s := range speeds {
		if s <= hz {
			code = i
		}
	}
	return byte(code)
}

func configByte(m hal.SPIMode) byte {
	switch m {
	case hal.Mode1:
		return cmdConfig | cfgPushPull
	case hal.Mode2:
		return cmdConfig | cfgPushPull | cfgCKP | cfgCKE
	case hal.Mode3:
		return cmdConfig | cfgPushPull | cfgCKP
	}
	return cmdConfig | cfgPushPull | cfgCKE
}

// Bridge is a Bus Pirate in binary SPI mode. It implements hal.SPI and,
// for its CS line only, hal.GPIO.
type Bridge struct {
	port Port
	name string

	bus sync.Mutex // held between Begin and End
	io  sync.Mutex // one command exchange at a time

	configured bool
	settings   hal.Settings
}

// Open opens the serial port and switches the Bus Pirate to binary SPI mode.
func Open(name string, baud int) (*Bridge, error) {
	if baud == 0 {
		baud = defaultBaud
	}
	p, err := openPort(name, baud)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	b := &Bridge{port: p, name: name}
	if err := b.enter(); err != nil {
		_ = p.Close()
		return nil, err
	}
	logging.L().Info("buspirate_open", "port", name, "baud", baud)
	return b, nil
}

func (b *Bridge) enter() error {
	b.io.Lock()
	defer b.io.Unlock()
	entered := false
	for i := 0; i < enterRetries && !entered; i++ {
		if _, err := b.port.Write([]byte{cmdReset}); err != nil {
			return err
		}
		got := b.readUpTo(5)
		entered = bytes.HasSuffix(got, []byte("BBIO1"))
	}
	if !entered {
		return fmt.Errorf("%w: binary mode", ErrNoResponse)
	}
	if _, err := b.port.Write([]byte{cmdSPI}); err != nil {
		return err
	}
	if got := b.readUpTo(4); !bytes.Equal(got, []byte("SPI1")) {
		return fmt.Errorf("%w: spi mode (got %q)", ErrNoResponse, got)
	}
	return b.command(cmdPeriph | periphPower | periphCS)
}

// readUpTo collects n bytes or gives up after a few empty reads.
func (b *Bridge) readUpTo(n int) []byte {
	buf := make([]byte, 0, n)
	tmp := make([]byte, n)
	idle := 0
	for len(buf) < n && idle < maxIdleReads {
		k, err := b.port.Read(tmp[:n-len(buf)])
		if k == 0 || err != nil {
			idle++
			continue
		}
		buf = append(buf, tmp[:k]...)
	}
	return buf
}

// command sends a one byte command and expects the 0x01 acknowledgement.
// Caller holds b.io.
func (b *Bridge) command(c byte) error {
	if _, err := b.port.Write([]byte{c}); err != nil {
		return err
	}
	got := b.readUpTo(1)
	if len(got) != 1 || got[0] != ack {
		return fmt.Errorf("%w: command 0x%02X", ErrNoResponse, c)
	}
	return nil
}

func (b *Bridge) String() string { return "buspirate:" + b.name }

// Begin acquires the bridge and applies s when it changed.
func (b *Bridge) Begin(s hal.Settings) error {
	b.bus.Lock()
	if b.configured && s == b.settings {
		return nil
	}
	b.io.Lock()
	err := b.command(cmdSpeed | speedCode(s.SpeedHz))
	if err == nil {
		err = b.command(configByte(s.Mode))
	}
	b.io.Unlock()
	if err != nil {
		b.bus.Unlock()
		return err
	}
	if s.Order == hal.LSBFirst {
		logging.L().Warn("buspirate_lsb_unsupported")
	}
	b.configured, b.settings = true, s
	return nil
}

func (b *Bridge) End() error {
	b.bus.Unlock()
	return nil
}

func (b *Bridge) Transfer(c byte) (byte, error) {
	var rx [1]byte
	if err := b.TransferBlock([]byte{c}, rx[:]); err != nil {
		return 0, err
	}
	return rx[0], nil
}

// TransferBlock moves tx in bulk transfers of up to 16 bytes.
func (b *Bridge) TransferBlock(tx, rx []byte) error {
	b.io.Lock()
	defer b.io.Unlock()
	for off := 0; off < len(tx); off += maxChunk {
		chunk := tx[off:min(off+maxChunk, len(tx))]
		msg := make([]byte, 0, 1+len(chunk))
		msg = append(msg, cmdBulk|byte(len(chunk)-1))
		msg = append(msg, chunk...)
		if _, err := b.port.Write(msg); err != nil {
			return err
		}
		got := b.readUpTo(1 + len(chunk))
		if len(got) != 1+len(chunk) || got[0] != ack {
			return fmt.Errorf("%w: bulk transfer", ErrNoResponse)
		}
		if off < len(rx) {
			copy(rx[off:], got[1:])
		}
	}
	return nil
}

// UsingInterrupt is a no-op; the bridge has no interrupt input.
func (b *Bridge) UsingInterrupt(hal.Vector) {}

// ConfigureOutput accepts only CSPin.
func (b *Bridge) ConfigureOutput(pin int) error {
	if pin != CSPin {
		return fmt.Errorf("buspirate: pin %d not available", pin)
	}
	return b.SetLevel(pin, hal.High)
}

// SetLevel drives the Bus Pirate CS line.
func (b *Bridge) SetLevel(pin int, l hal.Level) error {
	if pin != CSPin {
		return fmt.Errorf("buspirate: pin %d not available", pin)
	}
	b.io.Lock()
	defer b.io.Unlock()
	if l == hal.High {
		return b.command(cmdCSHigh)
	}
	return b.command(cmdCSLow)
}

func (b *Bridge) InterruptVector(int) (hal.Vector, bool) { return 0, false }

func (b *Bridge) AttachInterrupt(hal.Vector, func(), bool) error { return ErrNoInterrupts }

// Close returns the Bus Pirate to its terminal and closes the port.
func (b *Bridge) Close() error {
	b.io.Lock()
	_, _ = b.port.Write([]byte{cmdReset, cmdExit})
	b.io.Unlock()
	return b.port.Close()
}
