package mcp2515

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kstaniek/go-mcp2515/internal/mcp2515/reg"
)

// Speed is a supported CAN bit rate for an 8 MHz crystal.
type Speed uint8

const (
	Speed5k Speed = iota + 1
	Speed10k
	Speed20k
	Speed31k25
	Speed33k3
	Speed40k
	Speed50k
	Speed80k
	Speed83k3
	Speed95k
	Speed100k
	Speed125k
	Speed200k
	Speed250k
	Speed500k
	Speed1000k
)

// timing is one CNF1/CNF2/CNF3 triple.
type timing struct {
	bps              uint32
	name             string
	cnf1, cnf2, cnf3 byte
}

// timings8MHz holds bit timing for an 8 MHz oscillator, indexed by Speed.
var timings8MHz = [...]timing{
	Speed5k:    {5_000, "5k", 0x1F, 0xBF, 0x87},
	Speed10k:   {10_000, "10k", 0x0F, 0xBF, 0x87},
	Speed20k:   {20_000, "20k", 0x07, 0xBF, 0x87},
	Speed31k25: {31_250, "31.25k", 0x07, 0xA4, 0x84},
	Speed33k3:  {33_333, "33.3k", 0x47, 0xE2, 0x85},
	Speed40k:   {40_000, "40k", 0x03, 0xBF, 0x87},
	Speed50k:   {50_000, "50k", 0x03, 0xB4, 0x86},
	Speed80k:   {80_000, "80k", 0x01, 0xBF, 0x87},
	Speed83k3:  {83_333, "83.3k", 0x03, 0xA2, 0x82},
	Speed95k:   {95_238, "95k", 0x01, 0xBE, 0x84},
	Speed100k:  {100_000, "100k", 0x01, 0xB4, 0x86},
	Speed125k:  {125_000, "125k", 0x01, 0xB1, 0x85},
	Speed200k:  {200_000, "200k", 0x00, 0xB4, 0x86},
	Speed250k:  {250_000, "250k", 0x00, 0xB1, 0x85},
	Speed500k:  {500_000, "500k", 0x00, 0x90, 0x82},
	Speed1000k: {1_000_000, "1000k", 0x00, 0x80, 0x80},
}

func (s Speed) valid() bool { return s >= Speed5k && s <= Speed1000k }

func (s Speed) String() string {
	if !s.valid() {
		return fmt.Sprintf("speed(%d)", uint8(s))
	}
	return timings8MHz[s].name
}

// BitsPerSecond returns the nominal rate (rounded for 33.3k, 83.3k and 95k).
func (s Speed) BitsPerSecond() uint32 {
	if !s.valid() {
		return 0
	}
	return timings8MHz[s].bps
}

// Speeds lists every supported rate, slowest first.
func Speeds() []Speed {
	out := make([]Speed, 0, Speed1000k)
	for s := Speed5k; s <= Speed1000k; s++ {
		out = append(out, s)
	}
	return out
}

// ParseSpeed accepts "500k", "500000", "83.3k", "1m" and similar.
func ParseSpeed(v string) (Speed, error) {
	s := strings.ToLower(strings.TrimSpace(v))
	for sp := Speed5k; sp <= Speed1000k; sp++ {
		if timings8MHz[sp].name == s {
			return sp, nil
		}
	}
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "k"):
		mult, s = 1e3, strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		mult, s = 1e6, strings.TrimSuffix(s, "m")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid CAN speed %q", v)
	}
	bps := f * mult
	for sp := Speed5k; sp <= Speed1000k; sp++ {
		nominal := float64(timings8MHz[sp].bps)
		// accept the rounded spellings of the fractional rates
		if bps > nominal*0.995 && bps < nominal*1.005 {
			return sp, nil
		}
	}
	return 0, fmt.Errorf("unsupported CAN speed %q", v)
}

// SetBitrate programs CNF1..CNF3 for speed. The chip passes through
// Configuration mode and is returned to the mode it was in. An unknown
// speed fails with ErrFail before any register is touched.
func (d *Device) SetBitrate(speed Speed) error {
	if !speed.valid() {
		return fmt.Errorf("%w: unsupported speed %d", ErrFail, uint8(speed))
	}
	t := timings8MHz[speed]
	return d.withConfigMode(func() error {
		// CNF3, CNF2, CNF1 are consecutive.
		return d.WriteRegisters(reg.CNF3, []byte{t.cnf3, t.cnf2, t.cnf1})
	})
}
