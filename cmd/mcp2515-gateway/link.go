package main

import (
	"errors"
	"fmt"

	"github.com/kstaniek/go-mcp2515/internal/chipsim"
	"github.com/kstaniek/go-mcp2515/internal/hal"
	"github.com/kstaniek/go-mcp2515/internal/hal/buspirate"
	"github.com/kstaniek/go-mcp2515/internal/hal/periph"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515"
)

const (
	linkSPIDev    = "spidev"
	linkBusPirate = "buspirate"
	linkSim       = "sim"
)

// simIntPin is the pin the simulated INT line answers on.
const simIntPin = 1

// link is an opened transport pair plus what the driver needs to know
// about it.
type link struct {
	name     string
	spi      hal.SPI
	gpio     hal.GPIO
	csPin    int
	hwCS     bool
	intPin   int // -1 when receive must poll
	platform hal.Platform
	sim      *chipsim.Chip
	close    func() error
}

// openLink is a test hook.
var openLink = openHostLink

func openHostLink(cfg *appConfig) (*link, error) {
	switch cfg.link {
	case linkSPIDev:
		s, err := periph.OpenSPI(cfg.spiDev, !cfg.hwCS)
		if err != nil {
			return nil, err
		}
		g, err := periph.NewGPIO()
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		return &link{
			name:     s.String(),
			spi:      s,
			gpio:     g,
			csPin:    cfg.csPin,
			hwCS:     cfg.hwCS,
			intPin:   cfg.intPin,
			platform: hal.Host(),
			close:    func() error { return errors.Join(g.Close(), s.Close()) },
		}, nil
	case linkBusPirate:
		b, err := buspirate.Open(cfg.serialDev, cfg.baud)
		if err != nil {
			return nil, err
		}
		return &link{
			name:     b.String(),
			spi:      b,
			gpio:     b,
			csPin:    buspirate.CSPin,
			intPin:   -1,
			platform: hal.NewPlatform("buspirate", 0, false),
			close:    b.Close,
		}, nil
	case linkSim:
		return newSimLink(cfg.intPin >= 0), nil
	}
	return nil, fmt.Errorf("unknown link %q", cfg.link)
}

// newSimLink builds a link backed by a simulated controller. With irq the
// INT line is wired and frames injected on the simulated bus are delivered
// by interrupt.
func newSimLink(irq bool) *link {
	intPin := -1
	var opts []chipsim.Option
	if irq {
		intPin = simIntPin
		opts = append(opts, chipsim.WithIntPin(simIntPin))
	}
	chip := chipsim.New(opts...)
	return &link{
		name:     "sim",
		spi:      chip,
		gpio:     chip,
		intPin:   intPin,
		platform: hal.NewPlatform("sim", 4, false),
		sim:      chip,
		close:    func() error { return nil },
	}
}

func (lk *link) device(cfg *appConfig, opts ...mcp2515.Option) (*mcp2515.Device, error) {
	dcfg := mcp2515.Config{
		SPISpeedHz: uint32(cfg.spiHz),
		CSPin:      lk.csPin,
		HardwareCS: lk.hwCS,
		Port:       lk.name,
	}
	opts = append(opts, mcp2515.WithPlatform(lk.platform))
	if cfg.strictTx {
		opts = append(opts, mcp2515.WithStrictTxArbitration())
	}
	return mcp2515.New(dcfg, lk.spi, lk.gpio, opts...)
}
