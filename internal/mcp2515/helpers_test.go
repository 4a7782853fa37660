package mcp2515_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-mcp2515/internal/chipsim"
	"github.com/kstaniek/go-mcp2515/internal/hal"
	"github.com/kstaniek/go-mcp2515/internal/logging"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515/reg"
)

const (
	csPin  = 8
	intPin = 25
)

// fakeClock accumulates requested delays instead of sleeping.
type fakeClock struct {
	mu     sync.Mutex
	micros uint64
}

func (c *fakeClock) DelayMilliseconds(n uint) { c.add(uint64(n) * 1000) }
func (c *fakeClock) DelayMicroseconds(n uint) { c.add(uint64(n)) }

func (c *fakeClock) add(us uint64) {
	c.mu.Lock()
	c.micros += us
	c.mu.Unlock()
}

// Elapsed returns the simulated time in microseconds.
func (c *fakeClock) Elapsed() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.micros
}

// recordingSPI keeps the bytes sent in every block transfer.
type recordingSPI struct {
	*chipsim.Chip
	mu   sync.Mutex
	cmds [][]byte
}

func (r *recordingSPI) TransferBlock(tx, rx []byte) error {
	r.mu.Lock()
	r.cmds = append(r.cmds, append([]byte(nil), tx...))
	r.mu.Unlock()
	return r.Chip.TransferBlock(tx, rx)
}

func (r *recordingSPI) last() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cmds) == 0 {
		return nil
	}
	return r.cmds[len(r.cmds)-1]
}

// wroteTo reports whether a WRITE instruction addressed addr.
func (r *recordingSPI) wroteTo(addr uint8) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.cmds {
		if len(c) > 2 && c[0] == reg.Write && c[1] == addr {
			return true
		}
	}
	return false
}

func (r *recordingSPI) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cmds)
}

type rig struct {
	chip  *chipsim.Chip
	spi   *recordingSPI
	clock *fakeClock
	dev   *mcp2515.Device
}

// newRig wires a driver to a simulated chip. The device is not initialized.
func newRig(t *testing.T, chipOpts []chipsim.Option, opts ...mcp2515.Option) *rig {
	t.Helper()
	chip := chipsim.New(append([]chipsim.Option{chipsim.WithIntPin(intPin)}, chipOpts...)...)
	require.NoError(t, chip.ConfigureOutput(csPin))
	r := &rig{chip: chip, spi: &recordingSPI{Chip: chip}, clock: &fakeClock{}}
	base := []mcp2515.Option{
		mcp2515.WithClock(r.clock),
		mcp2515.WithLogger(logging.Discard()),
		mcp2515.WithPlatform(hal.NewPlatform("test", 4, false)),
	}
	dev, err := mcp2515.New(mcp2515.Config{CSPin: csPin, Port: "sim"}, r.spi, chip, append(base, opts...)...)
	require.NoError(t, err)
	r.dev = dev
	return r
}

// newReadyRig returns a rig initialized at 500 kbit/s in Normal mode.
func newReadyRig(t *testing.T, chipOpts []chipsim.Option, opts ...mcp2515.Option) *rig {
	t.Helper()
	r := newRig(t, chipOpts, opts...)
	require.NoError(t, r.dev.Init(mcp2515.Speed500k))
	return r
}
