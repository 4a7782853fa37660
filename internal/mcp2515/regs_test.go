package mcp2515_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-mcp2515/internal/chipsim"
	"github.com/kstaniek/go-mcp2515/internal/hal"
	"github.com/kstaniek/go-mcp2515/internal/logging"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515/reg"
)

func TestReadWriteRegister(t *testing.T) {
	r := newRig(t, nil)
	require.NoError(t, r.dev.WriteRegister(reg.CANINTE, 0x03))
	v, err := r.dev.ReadRegister(reg.CANINTE)
	require.NoError(t, err)
	assert.Equal(t, byte(0x03), v)
	assert.Equal(t, byte(0x03), r.chip.Peek(reg.CANINTE))
}

func TestRegisterBlocks(t *testing.T) {
	r := newRig(t, nil)
	in := []byte{1, 2, 3, 4, 5}
	require.NoError(t, r.dev.WriteRegisters(reg.TXB0CTRL+reg.OffSIDH, in))
	out, err := r.dev.ReadRegisters(reg.TXB0CTRL+reg.OffSIDH, len(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
	// One transaction per block.
	assert.Equal(t, []byte{reg.Write, reg.TXB0CTRL + reg.OffSIDH, 1, 2, 3, 4, 5}, r.spi.cmds[0])
}

func TestRegisterBlockTooLong(t *testing.T) {
	r := newRig(t, nil)
	before := r.chip.Transactions()
	_, err := r.dev.ReadRegisters(0, 14)
	assert.ErrorIs(t, err, mcp2515.ErrFail)
	err = r.dev.WriteRegisters(0, make([]byte, 14))
	assert.ErrorIs(t, err, mcp2515.ErrFail)
	assert.Equal(t, before, r.chip.Transactions())
}

func TestModifyRegister(t *testing.T) {
	r := newRig(t, nil)
	require.NoError(t, r.dev.WriteRegister(reg.CANINTE, 0xFF))
	require.NoError(t, r.dev.ModifyRegister(reg.CANINTE, 0x0F, 0x05))
	assert.Equal(t, byte(0xF5), r.chip.Peek(reg.CANINTE))
}

func TestSoftwareChipSelectFraming(t *testing.T) {
	r := newRig(t, nil)
	_, err := r.dev.ReadStatus()
	require.NoError(t, err)
	assert.Equal(t, hal.High, r.chip.Level(csPin))
	s := r.chip.LastSettings()
	assert.Equal(t, uint32(mcp2515.DefaultSPISpeedHz), s.SpeedHz)
	assert.Equal(t, hal.Mode0, s.Mode)
	assert.Equal(t, hal.MSBFirst, s.Order)
}

func TestHardwareChipSelect(t *testing.T) {
	chip := chipsim.New()
	dev, err := mcp2515.New(mcp2515.Config{CSPin: 0, HardwareCS: true, SPISpeedHz: 1_000_000}, chip, nil,
		mcp2515.WithPlatform(hal.NewPlatform("spidev", 4, true)),
		mcp2515.WithLogger(logging.Discard()),
		mcp2515.WithClock(&fakeClock{}))
	require.NoError(t, err)
	require.NoError(t, dev.Init(mcp2515.Speed125k))
	assert.Equal(t, hal.Mode3, chip.LastSettings().Mode)
	assert.Equal(t, uint32(1_000_000), chip.LastSettings().SpeedHz)
}

func TestHardwareChipSelectUnsupported(t *testing.T) {
	chip := chipsim.New()
	dev, err := mcp2515.New(mcp2515.Config{CSPin: csPin, HardwareCS: true}, chip, chip,
		mcp2515.WithPlatform(hal.NewPlatform("generic", 0, false)),
		mcp2515.WithLogger(logging.Discard()))
	require.NoError(t, err)
	assert.False(t, dev.Config().HardwareCS)

	_, err = mcp2515.New(mcp2515.Config{CSPin: csPin}, chip, nil, mcp2515.WithLogger(logging.Discard()))
	assert.Error(t, err)
	_, err = mcp2515.New(mcp2515.Config{}, nil, chip)
	assert.Error(t, err)
}

func TestResetEntersConfigMode(t *testing.T) {
	r := newReadyRig(t, nil)
	start := r.clock.Elapsed()
	require.NoError(t, r.dev.Reset())
	m, err := r.dev.Mode()
	require.NoError(t, err)
	assert.Equal(t, mcp2515.ModeConfig, m)
	assert.Equal(t, uint64(10_000), r.clock.Elapsed()-start)
}

func TestCheckRegisterWritable(t *testing.T) {
	r := newReadyRig(t, nil)
	assert.ErrorIs(t, r.dev.CheckRegisterWritable(reg.CNF1), mcp2515.ErrFail)
	assert.ErrorIs(t, r.dev.CheckRegisterWritable(reg.RXF3SIDH), mcp2515.ErrFail)
	assert.NoError(t, r.dev.CheckRegisterWritable(reg.CANINTE))
	require.NoError(t, r.dev.SetMode(mcp2515.ModeConfig))
	assert.NoError(t, r.dev.CheckRegisterWritable(reg.CNF1))
}

type failingSPI struct{ *chipsim.Chip }

var errWire = errors.New("wire fault")

func (failingSPI) TransferBlock(tx, rx []byte) error { return errWire }

func TestTransportErrorsAreWrapped(t *testing.T) {
	chip := chipsim.New()
	require.NoError(t, chip.ConfigureOutput(csPin))
	dev, err := mcp2515.New(mcp2515.Config{CSPin: csPin}, failingSPI{chip}, chip, mcp2515.WithLogger(logging.Discard()))
	require.NoError(t, err)
	_, err = dev.ReadRegister(reg.CANSTAT)
	assert.ErrorIs(t, err, mcp2515.ErrTransport)
	assert.Equal(t, mcp2515.Fail, mcp2515.Code(err))
	// The bus is released on failure.
	assert.Equal(t, hal.High, chip.Level(csPin))
	_, err = dev.ReadStatus()
	assert.ErrorIs(t, err, mcp2515.ErrTransport)
}
