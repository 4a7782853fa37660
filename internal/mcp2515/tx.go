package mcp2515

import (
	"fmt"

	"github.com/kstaniek/go-mcp2515/internal/can"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515/idcodec"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515/reg"
	"github.com/kstaniek/go-mcp2515/internal/metrics"
)

const (
	// txPollLimit bounds completion polling to about 250 ms.
	txPollLimit    = 25000
	txPollInterval = 10 // µs
	txAbortSettle  = 1  // ms
)

// Send loads fr into a free transmit buffer, requests transmission and
// waits for the bus to acknowledge it. When every buffer is pending TXB0
// is reused, aborting its frame, unless strict arbitration is enabled.
// On timeout the request is withdrawn and ErrFail returned.
func (d *Device) Send(fr *can.Frame) error {
	if fr == nil {
		return fmt.Errorf("%w: nil frame", ErrFail)
	}
	if fr.Len > can.MaxLen {
		return fmt.Errorf("%w: length %d exceeds %d", ErrFail, fr.Len, can.MaxLen)
	}
	n, err := d.pickTxBuffer()
	if err != nil {
		return err
	}
	ctrl := reg.TxBuffers[n]

	c, err := d.ReadRegister(ctrl)
	if err != nil {
		return err
	}
	if c&reg.TxREQ != 0 {
		if err := d.ModifyRegister(ctrl, reg.TxREQ, 0); err != nil {
			return err
		}
		d.clock.DelayMilliseconds(txAbortSettle)
	}

	if err := d.loadTxBuffer(ctrl, fr); err != nil {
		return err
	}
	if err := d.ModifyRegister(ctrl, reg.TxREQ, reg.TxREQ); err != nil {
		return err
	}

	c, err = d.ReadRegister(ctrl)
	if err != nil {
		return err
	}
	if c&reg.TxFailMask != 0 {
		metrics.IncError(metrics.ErrControllerTx)
		d.log.Debug("mcp2515_tx_failed", "buffer", n, "ctrl", c, "frame", fr.String())
		return fmt.Errorf("%w: txb%d ctrl 0x%02X", ErrFail, n, c)
	}

	for i := 0; c&reg.TxREQ != 0 && i < txPollLimit; i++ {
		d.clock.DelayMicroseconds(txPollInterval)
		if c, err = d.ReadRegister(ctrl); err != nil {
			return err
		}
	}
	if c&reg.TxREQ == 0 {
		if err := d.ModifyRegister(reg.CANINTF, reg.TxInt(n), 0); err != nil {
			return err
		}
		metrics.IncControllerTx()
		return nil
	}

	metrics.IncControllerTimeout()
	d.log.Debug("mcp2515_tx_timeout", "buffer", n, "frame", fr.String())
	if err := d.ModifyRegister(ctrl, reg.TxREQ, 0); err != nil {
		return err
	}
	return fmt.Errorf("%w: txb%d not acknowledged", ErrFail, n)
}

// pickTxBuffer returns the first transmit buffer without a pending request.
func (d *Device) pickTxBuffer() (int, error) {
	for i, ctrl := range reg.TxBuffers {
		c, err := d.ReadRegister(ctrl)
		if err != nil {
			return 0, err
		}
		if c&reg.TxREQ == 0 {
			return i, nil
		}
	}
	if d.strictTx {
		return 0, ErrAllTxBusy
	}
	metrics.IncControllerEviction()
	d.log.Debug("mcp2515_tx_evict", "buffer", 0)
	return 0, nil
}

// loadTxBuffer writes ID, DLC and payload in one transaction.
func (d *Device) loadTxBuffer(ctrl uint8, fr *can.Frame) error {
	var img [maxBlock]byte
	id := idcodec.EncodeFrameID(fr.CANID)
	copy(img[:4], id[:])
	img[4] = fr.Len & reg.DLCMask
	if fr.Remote() {
		img[4] |= reg.DLCRtr
	}
	n := 0
	if !fr.Remote() {
		n = copy(img[5:], fr.Data[:fr.Len])
	}
	return d.WriteRegisters(ctrl+reg.OffSIDH, img[:5+n])
}

// SendStandard transmits a data frame with an 11-bit identifier.
func (d *Device) SendStandard(id uint16, data []byte) error {
	if len(data) > can.MaxLen {
		return fmt.Errorf("%w: length %d exceeds %d", ErrFail, len(data), can.MaxLen)
	}
	fr := can.NewStandard(id, data)
	return d.Send(&fr)
}

// SendExtended transmits a data frame with a 29-bit identifier.
func (d *Device) SendExtended(id uint32, data []byte) error {
	if len(data) > can.MaxLen {
		return fmt.Errorf("%w: length %d exceeds %d", ErrFail, len(data), can.MaxLen)
	}
	fr := can.NewExtended(id, data)
	return d.Send(&fr)
}

// SendRemote requests n data bytes from the node owning a standard id.
func (d *Device) SendRemote(id uint16, n uint8) error {
	fr := can.NewStandard(id, nil)
	fr.CANID |= can.CAN_RTR_FLAG
	fr.Len = n
	return d.Send(&fr)
}

// SendExtendedRemote requests n data bytes from the node owning an extended id.
func (d *Device) SendExtendedRemote(id uint32, n uint8) error {
	fr := can.NewExtended(id, nil)
	fr.CANID |= can.CAN_RTR_FLAG
	fr.Len = n
	return d.Send(&fr)
}
