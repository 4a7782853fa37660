package buspirate

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/kstaniek/go-mcp2515/internal/hal"
)

// fakePirate answers the binary protocol. Bulk transfers echo each byte
// inverted so tests can tell read data from written data.
type fakePirate struct {
	mu       sync.Mutex
	out      bytes.Buffer
	bulkLeft int
	silent   bool
	cs       []bool // history, true = high
	speed    byte
	config   byte
	written  []byte
	closed   bool
}

func (f *fakePirate) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, p...)
	if f.silent {
		return len(p), nil
	}
	for _, c := range p {
		if f.bulkLeft > 0 {
			f.out.WriteByte(^c)
			f.bulkLeft--
			continue
		}
		switch {
		case c == cmdReset:
			f.out.WriteString("BBIO1")
		case c == cmdSPI:
			f.out.WriteString("SPI1")
		case c == cmdCSLow, c == cmdCSHigh:
			f.cs = append(f.cs, c == cmdCSHigh)
			f.out.WriteByte(ack)
		case c&0xF0 == cmdBulk:
			f.bulkLeft = int(c&0x0F) + 1
			f.out.WriteByte(ack)
		case c&0xF0 == cmdPeriph:
			f.out.WriteByte(ack)
		case c&0xF8 == cmdSpeed:
			f.speed = c & 0x07
			f.out.WriteByte(ack)
		case c&0xF0 == cmdConfig:
			f.config = c
			f.out.WriteByte(ack)
		}
	}
	return len(p), nil
}

func (f *fakePirate) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.out.Len() == 0 {
		return 0, nil
	}
	return f.out.Read(p)
}

func (f *fakePirate) Close() error { f.closed = true; return nil }

func openFake(t *testing.T, f *fakePirate) (*Bridge, error) {
	t.Helper()
	prev := openPort
	openPort = func(string, int) (Port, error) { return f, nil }
	t.Cleanup(func() { openPort = prev })
	return Open("/dev/ttyUSB0", 0)
}

func TestOpenEntersSPIMode(t *testing.T) {
	f := &fakePirate{}
	b, err := openFake(t, f)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Contains(f.written, []byte{cmdReset, cmdSPI, cmdPeriph | periphPower | periphCS}) {
		t.Fatalf("unexpected init sequence % X", f.written)
	}
	if err := b.Close(); err != nil || !f.closed {
		t.Fatalf("close: %v", err)
	}
}

func TestOpenNoResponse(t *testing.T) {
	f := &fakePirate{silent: true}
	_, err := openFake(t, f)
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("expected ErrNoResponse, got %v", err)
	}
	if !f.closed {
		t.Fatalf("port left open")
	}
}

func TestTransactionWithChipSelect(t *testing.T) {
	f := &fakePirate{}
	b, err := openFake(t, f)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := b.ConfigureOutput(CSPin); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := b.Begin(hal.Settings{SpeedHz: 10_000_000, Mode: hal.Mode0}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if f.speed != 7 || f.config != 0x8A {
		t.Fatalf("speed %d config 0x%02X", f.speed, f.config)
	}
	if err := b.SetLevel(CSPin, hal.Low); err != nil {
		t.Fatalf("cs low: %v", err)
	}
	tx := make([]byte, 20)
	for i := range tx {
		tx[i] = byte(i)
	}
	rx := make([]byte, len(tx))
	if err := b.TransferBlock(tx, rx); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	for i := range rx {
		if rx[i] != ^byte(i) {
			t.Fatalf("rx[%d] = 0x%02X", i, rx[i])
		}
	}
	if err := b.SetLevel(CSPin, hal.High); err != nil {
		t.Fatalf("cs high: %v", err)
	}
	_ = b.End()
	want := []bool{true, false, true}
	if len(f.cs) != len(want) {
		t.Fatalf("cs history %v", f.cs)
	}
	for i := range want {
		if f.cs[i] != want[i] {
			t.Fatalf("cs history %v", f.cs)
		}
	}
	if b.SetLevel(3, hal.Low) == nil {
		t.Fatalf("expected error for pin 3")
	}
	if _, ok := b.InterruptVector(CSPin); ok {
		t.Fatalf("unexpected interrupt vector")
	}
}

func TestSpeedAndModeMapping(t *testing.T) {
	cases := []struct {
		hz   uint32
		code byte
	}{{10_000, 0}, {100_000, 0}, {125_000, 1}, {1_500_000, 3}, {4_000_000, 6}, {20_000_000, 7}}
	for _, c := range cases {
		if got := speedCode(c.hz); got != c.code {
			t.Fatalf("speedCode(%d) = %d, want %d", c.hz, got, c.code)
		}
	}
	if configByte(hal.Mode3) != 0x8C {
		t.Fatalf("mode3 config 0x%02X", configByte(hal.Mode3))
	}
}
