package mcp2515

import (
	"github.com/kstaniek/go-mcp2515/internal/mcp2515/reg"
)

// BusState is the fault confinement state derived from EFLG.
type BusState int

const (
	BusActive BusState = iota
	BusWarning
	BusPassive
	BusOff
)

func (s BusState) String() string {
	switch s {
	case BusActive:
		return "active"
	case BusWarning:
		return "warning"
	case BusPassive:
		return "passive"
	case BusOff:
		return "bus-off"
	}
	return "unknown"
}

// ErrorState is a snapshot of the error counters and flags.
type ErrorState struct {
	TEC   uint8
	REC   uint8
	Flags uint8 // EFLG
}

// State classifies the flags, worst condition first.
func (e ErrorState) State() BusState {
	switch {
	case e.Flags&reg.EflgTXBO != 0:
		return BusOff
	case e.Flags&(reg.EflgTXEP|reg.EflgRXEP) != 0:
		return BusPassive
	case e.Flags&reg.EflgEWARN != 0:
		return BusWarning
	}
	return BusActive
}

// Overflow reports whether either receive buffer overflowed.
func (e ErrorState) Overflow() bool {
	return e.Flags&(reg.EflgRX0OVR|reg.EflgRX1OVR) != 0
}

// ErrorState reads TEC, REC and EFLG.
func (d *Device) ErrorState() (ErrorState, error) {
	var cnt [2]byte
	if err := d.readInto(reg.TEC, cnt[:]); err != nil {
		return ErrorState{}, err
	}
	fl, err := d.ReadRegister(reg.EFLG)
	if err != nil {
		return ErrorState{}, err
	}
	return ErrorState{TEC: cnt[0], REC: cnt[1], Flags: fl}, nil
}

// ClearOverflow resets the receive overflow flags, the only writable EFLG bits.
func (d *Device) ClearOverflow() error {
	return d.ModifyRegister(reg.EFLG, reg.EflgRX0OVR|reg.EflgRX1OVR, 0)
}

// ErrorCounters returns the transmit and receive error counters.
func (d *Device) ErrorCounters() (tec, rec uint8, err error) {
	st, err := d.ErrorState()
	return st.TEC, st.REC, err
}

// ErrorFlags returns EFLG.
func (d *Device) ErrorFlags() (uint8, error) {
	return d.ReadRegister(reg.EFLG)
}
