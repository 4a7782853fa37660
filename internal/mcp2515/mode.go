package mcp2515

import (
	"fmt"
	"strings"

	"github.com/kstaniek/go-mcp2515/internal/mcp2515/reg"
	"github.com/kstaniek/go-mcp2515/internal/metrics"
)

// Mode is the controller operation mode (CANCTRL.REQOP / CANSTAT.OPMOD).
type Mode uint8

const (
	ModeNormal     Mode = reg.ModeNormal
	ModeSleep      Mode = reg.ModeSleep
	ModeLoopback   Mode = reg.ModeLoopback
	ModeListenOnly Mode = reg.ModeListenOnly
	ModeConfig     Mode = reg.ModeConfig
)

const (
	modeAttempts = 10
	modeSettle   = 1 // ms between request and confirmation
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeSleep:
		return "sleep"
	case ModeLoopback:
		return "loopback"
	case ModeListenOnly:
		return "listen-only"
	case ModeConfig:
		return "config"
	}
	return fmt.Sprintf("mode(0x%02X)", uint8(m))
}

// ParseMode accepts the names produced by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal":
		return ModeNormal, nil
	case "sleep":
		return ModeSleep, nil
	case "loopback":
		return ModeLoopback, nil
	case "listen-only", "listenonly", "listen":
		return ModeListenOnly, nil
	case "config", "configuration":
		return ModeConfig, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// Mode returns the operation mode the chip reports in CANSTAT.
func (d *Device) Mode() (Mode, error) {
	v, err := d.ReadRegister(reg.CANSTAT)
	if err != nil {
		return 0, err
	}
	return Mode(v & reg.ModeMask), nil
}

// SetMode requests target and waits for the chip to confirm it.
// Leaving Sleep goes through the wake sequence first. Entering Sleep arms
// the wake-up interrupt so the chip can always be woken again; any other
// target disarms it.
func (d *Device) SetMode(target Mode) error {
	cur, err := d.Mode()
	if err != nil {
		return err
	}
	if cur == ModeSleep && target != ModeSleep {
		if err := d.wake(); err != nil {
			return err
		}
	}
	var wak byte
	if target == ModeSleep {
		wak = reg.IntWAK
	}
	if err := d.ModifyRegister(reg.CANINTE, reg.IntWAK, wak); err != nil {
		return err
	}
	for i := 0; i < modeAttempts; i++ {
		if err := d.ModifyRegister(reg.CANCTRL, reg.ModeMask, byte(target)); err != nil {
			return err
		}
		d.clock.DelayMilliseconds(modeSettle)
		got, err := d.Mode()
		if err != nil {
			return err
		}
		if got == target {
			if i > 0 {
				d.log.Debug("mcp2515_mode_retry", "mode", target.String(), "attempts", i+1)
			}
			return nil
		}
	}
	metrics.IncError(metrics.ErrControllerMode)
	d.log.Warn("mcp2515_mode_timeout", "mode", target.String(), "attempts", modeAttempts)
	return fmt.Errorf("%w: %s after %d attempts", ErrSetModeFail, target, modeAttempts)
}

// wake takes the chip out of Sleep into Listen-Only. Setting WAKIF with
// WAKIE armed makes the chip wake itself; on a silent bus it may stay
// asleep, so Listen-Only is then requested explicitly. WAKIE is put back
// the way it was and WAKIF cleared on every path.
func (d *Device) wake() error {
	inte, err := d.ReadRegister(reg.CANINTE)
	if err != nil {
		return err
	}
	armed := inte&reg.IntWAK != 0
	if !armed {
		if err := d.ModifyRegister(reg.CANINTE, reg.IntWAK, reg.IntWAK); err != nil {
			return err
		}
	}
	werr := d.forceAwake()
	if !armed {
		if err := d.ModifyRegister(reg.CANINTE, reg.IntWAK, 0); err != nil && werr == nil {
			werr = err
		}
	}
	if err := d.ModifyRegister(reg.CANINTF, reg.IntWAK, 0); err != nil && werr == nil {
		werr = err
	}
	return werr
}

func (d *Device) forceAwake() error {
	if err := d.ModifyRegister(reg.CANINTF, reg.IntWAK, reg.IntWAK); err != nil {
		return err
	}
	m, err := d.Mode()
	if err != nil {
		return err
	}
	if m != ModeSleep {
		return nil
	}
	if err := d.ModifyRegister(reg.CANCTRL, reg.ModeMask, byte(ModeListenOnly)); err != nil {
		return err
	}
	d.clock.DelayMilliseconds(modeSettle)
	if m, err = d.Mode(); err != nil {
		return err
	}
	if m == ModeSleep {
		return fmt.Errorf("%w: chip did not wake from sleep", ErrSetModeFail)
	}
	return nil
}

// withConfigMode runs fn with the chip in Configuration mode and restores
// the mode it was in before, on every path.
func (d *Device) withConfigMode(fn func() error) error {
	prev, err := d.Mode()
	if err != nil {
		return err
	}
	if err := d.SetMode(ModeConfig); err != nil {
		if rerr := d.SetMode(prev); rerr != nil {
			d.log.Warn("mcp2515_mode_restore_failed", "mode", prev.String(), "error", rerr)
		}
		return err
	}
	ferr := fn()
	rerr := d.SetMode(prev)
	if ferr != nil {
		if rerr != nil {
			d.log.Warn("mcp2515_mode_restore_failed", "mode", prev.String(), "error", rerr)
		}
		return ferr
	}
	return rerr
}
