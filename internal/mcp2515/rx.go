package mcp2515

import (
	"fmt"

	"github.com/kstaniek/go-mcp2515/internal/can"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515/idcodec"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515/reg"
	"github.com/kstaniek/go-mcp2515/internal/metrics"
)

// RxBuffer identifies a receive buffer.
type RxBuffer int

const (
	RxNone RxBuffer = -1
	RxB0   RxBuffer = 0
	RxB1   RxBuffer = 1
)

func (b RxBuffer) String() string {
	switch b {
	case RxNone:
		return "none"
	case RxB0:
		return "rxb0"
	case RxB1:
		return "rxb1"
	}
	return fmt.Sprintf("rxbuffer(%d)", int(b))
}

// CheckPending reports which receive buffer holds the next message. When
// both are full RXB0 is drained first since it holds the older frame when
// rollover is on.
func (d *Device) CheckPending() (RxBuffer, error) {
	st, err := d.ReadRxStatus()
	if err != nil {
		return RxNone, err
	}
	switch st & reg.RxStatusMask {
	case reg.RxStatusRXB0, reg.RxStatusBoth:
		return RxB0, nil
	case reg.RxStatusRXB1:
		return RxB1, nil
	}
	return RxNone, nil
}

// Receive drains the next pending message. It returns ErrNoMessage, and
// touches no flags, when both buffers are empty.
func (d *Device) Receive() (can.Frame, error) {
	var fr can.Frame
	buf, err := d.CheckPending()
	if err != nil {
		return fr, err
	}
	if buf == RxNone {
		return fr, ErrNoMessage
	}
	ctrl := reg.RxBuffers[buf]

	var hdr [6]byte // CTRL, SIDH, SIDL, EID8, EID0, DLC
	if err := d.readInto(ctrl, hdr[:]); err != nil {
		metrics.IncError(metrics.ErrControllerRx)
		return fr, err
	}
	var id idcodec.Field
	copy(id[:], hdr[1:5])
	fr.CANID = idcodec.Decode(id)
	dlc := hdr[5]
	if hdr[0]&reg.RxRTR != 0 || (fr.Extended() && dlc&reg.DLCRtr != 0) {
		fr.CANID |= can.CAN_RTR_FLAG
	}
	n := dlc & reg.DLCMask
	if n > can.MaxLen {
		n = can.MaxLen
	}
	fr.Len = n
	if n > 0 {
		if err := d.readInto(ctrl+reg.OffData0, fr.Data[:n]); err != nil {
			metrics.IncError(metrics.ErrControllerRx)
			return fr, err
		}
	}
	if err := d.ModifyRegister(reg.CANINTF, reg.IntRX0<<uint(buf), 0); err != nil {
		return fr, err
	}
	fr.Buffer = uint8(buf)
	metrics.IncControllerRx()
	return fr, nil
}
