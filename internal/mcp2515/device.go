// Package mcp2515 drives a Microchip MCP2515 stand-alone CAN controller
// through its SPI command set: register access, identifier packing, mode
// and bit timing control, acceptance filters, transmit, receive and
// interrupt driven delivery.
package mcp2515

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-mcp2515/internal/can"
	"github.com/kstaniek/go-mcp2515/internal/hal"
	"github.com/kstaniek/go-mcp2515/internal/logging"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515/reg"
)

// DefaultSPISpeedHz is the fastest SCK the MCP2515 accepts.
const DefaultSPISpeedHz = 10_000_000

// Config is fixed for the lifetime of a Device.
type Config struct {
	// SPISpeedHz is the SCK frequency; zero selects DefaultSPISpeedHz.
	SPISpeedHz uint32
	// CSPin is the host pin wired to the chip select line. It is driven by
	// the driver unless HardwareCS is set.
	CSPin int
	// HardwareCS lets the SPI peripheral frame chip select itself. It is
	// ignored on platforms that cannot do so.
	HardwareCS bool
	// Port names the SPI peripheral instance the transport was opened on.
	Port string
}

// Device is one MCP2515 on an SPI bus.
type Device struct {
	spi      hal.SPI
	gpio     hal.GPIO
	clock    hal.Clock
	platform hal.Platform
	cfg      Config
	settings hal.Settings
	log      *slog.Logger
	strictTx bool

	// interrupt delivery state, owned by the bound handler
	irqMu   sync.Mutex
	ring    [RingSize]can.Frame
	ringIdx int
	onRecv  ReceiveFunc
	slot    int
}

// Option customizes a Device.
type Option func(*Device)

// WithLogger sets the logger; the global logger is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.log = l
		}
	}
}

// WithClock replaces the delay source.
func WithClock(c hal.Clock) Option {
	return func(d *Device) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithPlatform overrides the build target capabilities.
func WithPlatform(p hal.Platform) Option {
	return func(d *Device) {
		if p != nil {
			d.platform = p
		}
	}
}

// WithStrictTxArbitration makes Send fail with ErrAllTxBusy when every
// transmit buffer is pending instead of reusing TXB0.
func WithStrictTxArbitration() Option { return func(d *Device) { d.strictTx = true } }

// New binds a driver to its collaborators. gpio may be nil only when chip
// select is framed in hardware and interrupts are not used.
func New(cfg Config, spi hal.SPI, gpio hal.GPIO, opts ...Option) (*Device, error) {
	if spi == nil {
		return nil, errors.New("mcp2515: nil spi transport")
	}
	d := &Device{
		spi:      spi,
		gpio:     gpio,
		clock:    hal.SystemClock{},
		platform: hal.Host(),
		cfg:      cfg,
		log:      logging.L(),
		slot:     -1,
	}
	for _, o := range opts {
		o(d)
	}
	if d.cfg.SPISpeedHz == 0 {
		d.cfg.SPISpeedHz = DefaultSPISpeedHz
	}
	if d.cfg.HardwareCS && !d.platform.HardwareCS() {
		d.log.Warn("mcp2515_hw_cs_unsupported", "platform", d.platform.Name(), "cs_pin", d.cfg.CSPin)
		d.cfg.HardwareCS = false
	}
	if !d.cfg.HardwareCS && d.gpio == nil {
		return nil, errors.New("mcp2515: software chip select needs gpio")
	}
	d.settings = hal.Settings{
		SpeedHz: d.cfg.SPISpeedHz,
		Order:   hal.MSBFirst,
		Mode:    hal.SPIModeFor(d.cfg.HardwareCS),
	}
	return d, nil
}

// Config returns the effective configuration.
func (d *Device) Config() Config { return d.cfg }

// Init brings the chip to a known state: reset, bit timing, Normal mode,
// RXB0 rollover into RXB1, masks and filters open, receive interrupts on.
func (d *Device) Init(speed Speed) error {
	if !d.cfg.HardwareCS {
		if err := d.gpio.ConfigureOutput(d.cfg.CSPin); err != nil {
			return transportErr("cs pin", err)
		}
		if err := d.gpio.SetLevel(d.cfg.CSPin, hal.High); err != nil {
			return transportErr("cs pin", err)
		}
	}
	if err := d.Reset(); err != nil {
		return err
	}
	if err := d.SetBitrate(speed); err != nil {
		return err
	}
	if err := d.SetMode(ModeNormal); err != nil {
		return err
	}
	if err := d.ModifyRegister(reg.RXB0CTRL, reg.RxBUKT, reg.RxBUKT); err != nil {
		return err
	}
	for i := range reg.Masks {
		if err := d.SetMask(i, 0, 0, 0); err != nil {
			return err
		}
	}
	for i := range reg.Filters {
		if err := d.SetFilter(i, 0, 0, 0); err != nil {
			return err
		}
	}
	if err := d.ModifyRegister(reg.CANINTE, reg.IntRXMask, reg.IntRXMask); err != nil {
		return err
	}
	d.log.Info("mcp2515_init", "port", d.cfg.Port, "speed", speed.String(), "spi_hz", d.cfg.SPISpeedHz, "hw_cs", d.cfg.HardwareCS)
	return nil
}
