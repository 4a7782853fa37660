// Package periph implements the hal transports on Linux spidev and sysfs/
// memory-mapped GPIO through periph.io.
package periph

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/kstaniek/go-mcp2515/internal/hal"
	"github.com/kstaniek/go-mcp2515/internal/logging"
)

// ErrSettingsChanged is returned when a transaction asks for settings other
// than the ones the port was connected with; spidev ports connect once.
var ErrSettingsChanged = errors.New("periph: spi settings differ from connected port")

var hostInit = sync.OnceValue(func() error {
	_, err := host.Init()
	return err
})

// openPort is a test hook.
var openPort = func(name string) (spi.PortCloser, error) {
	if err := hostInit(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	return spireg.Open(name)
}

// SPI is a spidev port. Begin/End hold a mutex so an interrupt watcher
// goroutine cannot interleave bytes with a transaction in progress.
type SPI struct {
	name string
	port spi.PortCloser
	// noCS asks the kernel to leave chip select alone (software CS).
	noCS bool

	mu       sync.Mutex
	once     sync.Once
	conn     spi.Conn
	connErr  error
	settings hal.Settings
	scratch  []byte
	vectors  []hal.Vector
}

// OpenSPI opens a spidev port by name ("/dev/spidev0.0", "SPI0.0" or ""
// for the first one). Set softwareCS when the driver frames CS on a GPIO.
func OpenSPI(name string, softwareCS bool) (*SPI, error) {
	p, err := openPort(name)
	if err != nil {
		return nil, fmt.Errorf("open spi %q: %w", name, err)
	}
	logging.L().Info("spi_open", "port", p.String(), "software_cs", softwareCS)
	return &SPI{name: p.String(), port: p, noCS: softwareCS}, nil
}

func (s *SPI) String() string { return s.name }

func (s *SPI) connect(set hal.Settings) error {
	s.once.Do(func() {
		mode := spi.Mode0
		switch set.Mode {
		case hal.Mode1:
			mode = spi.Mode1
		case hal.Mode2:
			mode = spi.Mode2
		case hal.Mode3:
			mode = spi.Mode3
		}
		if set.Order == hal.LSBFirst {
			mode |= spi.LSBFirst
		}
		if s.noCS {
			mode |= spi.NoCS
		}
		s.conn, s.connErr = s.port.Connect(physic.Frequency(set.SpeedHz)*physic.Hertz, mode, 8)
		s.settings = set
	})
	if s.connErr != nil {
		return s.connErr
	}
	if set != s.settings {
		return fmt.Errorf("%w: have %+v, want %+v", ErrSettingsChanged, s.settings, set)
	}
	return nil
}

// Begin acquires the port; the first call connects it with s.
func (s *SPI) Begin(set hal.Settings) error {
	s.mu.Lock()
	if err := s.connect(set); err != nil {
		s.mu.Unlock()
		return err
	}
	return nil
}

// End releases the port.
func (s *SPI) End() error {
	s.mu.Unlock()
	return nil
}

func (s *SPI) Transfer(b byte) (byte, error) {
	w := [1]byte{b}
	var r [1]byte
	if err := s.conn.Tx(w[:], r[:]); err != nil {
		return 0, err
	}
	return r[0], nil
}

func (s *SPI) TransferBlock(tx, rx []byte) error {
	if len(rx) >= len(tx) {
		return s.conn.Tx(tx, rx[:len(tx)])
	}
	if cap(s.scratch) < len(tx) {
		s.scratch = make([]byte, len(tx))
	}
	buf := s.scratch[:len(tx)]
	if err := s.conn.Tx(tx, buf); err != nil {
		return err
	}
	copy(rx, buf)
	return nil
}

// UsingInterrupt records v; the mutex in Begin already excludes the
// watcher goroutine.
func (s *SPI) UsingInterrupt(v hal.Vector) {
	s.mu.Lock()
	s.vectors = append(s.vectors, v)
	s.mu.Unlock()
}

// Close releases the port.
func (s *SPI) Close() error { return s.port.Close() }
