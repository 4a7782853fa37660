// Package reg holds the MCP2515 SPI instruction set, register map and bit
// definitions shared by the driver and the chip simulator.
package reg

// SPI instructions.
const (
	Write      = 0x02
	Read       = 0x03
	BitModify  = 0x05
	LoadTX0H   = 0x40
	LoadTX0    = 0x41
	LoadTX1H   = 0x42
	LoadTX1    = 0x43
	LoadTX2H   = 0x44
	LoadTX2    = 0x45
	RTSTX0     = 0x81
	RTSTX1     = 0x82
	RTSTX2     = 0x84
	RTSAll     = 0x87
	ReadRX0H   = 0x90
	ReadRX0    = 0x92
	ReadRX1H   = 0x94
	ReadRX1    = 0x96
	ReadStatus = 0xA0
	RxStatus   = 0xB0
	Reset      = 0xC0

	Dummy = 0x00
)

// Acceptance filters, masks and scalar registers.
const (
	RXF0SIDH  = 0x00
	RXF0SIDL  = 0x01
	RXF0EID8  = 0x02
	RXF0EID0  = 0x03
	RXF1SIDH  = 0x04
	RXF1SIDL  = 0x05
	RXF1EID8  = 0x06
	RXF1EID0  = 0x07
	RXF2SIDH  = 0x08
	RXF2SIDL  = 0x09
	RXF2EID8  = 0x0A
	RXF2EID0  = 0x0B
	BFPCTRL   = 0x0C
	TXRTSCTRL = 0x0D
	CANSTAT   = 0x0E
	CANCTRL   = 0x0F
	RXF3SIDH  = 0x10
	RXF3SIDL  = 0x11
	RXF3EID8  = 0x12
	RXF3EID0  = 0x13
	RXF4SIDH  = 0x14
	RXF4SIDL  = 0x15
	RXF4EID8  = 0x16
	RXF4EID0  = 0x17
	RXF5SIDH  = 0x18
	RXF5SIDL  = 0x19
	RXF5EID8  = 0x1A
	RXF5EID0  = 0x1B
	TEC       = 0x1C
	REC       = 0x1D
	RXM0SIDH  = 0x20
	RXM0SIDL  = 0x21
	RXM0EID8  = 0x22
	RXM0EID0  = 0x23
	RXM1SIDH  = 0x24
	RXM1SIDL  = 0x25
	RXM1EID8  = 0x26
	RXM1EID0  = 0x27
	CNF3      = 0x28
	CNF2      = 0x29
	CNF1      = 0x2A
	CANINTE   = 0x2B
	CANINTF   = 0x2C
	EFLG      = 0x2D
	TXB0CTRL  = 0x30
	TXB1CTRL  = 0x40
	TXB2CTRL  = 0x50
	RXB0CTRL  = 0x60
	RXB1CTRL  = 0x70

	// Last is the highest addressable register.
	Last = 0x7F
)

// Offsets from a TX/RX buffer control register.
const (
	OffSIDH  = 1
	OffSIDL  = 2
	OffEID8  = 3
	OffEID0  = 4
	OffDLC   = 5
	OffData0 = 6
)

// Filters lists the SIDH address of RXF0..RXF5.
var Filters = [6]uint8{RXF0SIDH, RXF1SIDH, RXF2SIDH, RXF3SIDH, RXF4SIDH, RXF5SIDH}

// Masks lists the SIDH address of RXM0 and RXM1.
var Masks = [2]uint8{RXM0SIDH, RXM1SIDH}

// TxBuffers lists the control register of TXB0..TXB2 in scan order.
var TxBuffers = [3]uint8{TXB0CTRL, TXB1CTRL, TXB2CTRL}

// RxBuffers lists the control register of RXB0 and RXB1.
var RxBuffers = [2]uint8{RXB0CTRL, RXB1CTRL}

// Identifier and DLC bits.
const (
	SIDLExide = 0x08
	DLCMask   = 0x0F
	DLCRtr    = 0x40
)

// TXBnCTRL bits.
const (
	TxABTF  = 0x40
	TxMLOA  = 0x20
	TxERR   = 0x10
	TxREQ   = 0x08
	TxPMask = 0x03
)

// TxFailMask groups the TXBnCTRL error bits.
const TxFailMask = TxABTF | TxMLOA | TxERR

// RXBnCTRL bits.
const (
	RxRTR   = 0x08
	RxBUKT  = 0x04
	RxMMask = 0x60
)

// CANINTE / CANINTF bits.
const (
	IntRX0  = 0x01
	IntRX1  = 0x02
	IntTX0  = 0x04
	IntTX1  = 0x08
	IntTX2  = 0x10
	IntERR  = 0x20
	IntWAK  = 0x40
	IntMERR = 0x80

	IntRXMask = IntRX0 | IntRX1
	// IntNonRXMask covers every flag the receive handler does not service.
	IntNonRXMask = 0xFC
)

// TxInt returns the TXnIF bit of transmit buffer n.
func TxInt(n int) uint8 { return IntTX0 << uint(n) }

// EFLG bits.
const (
	EflgRX1OVR = 0x80
	EflgRX0OVR = 0x40
	EflgTXBO   = 0x20
	EflgTXEP   = 0x10
	EflgRXEP   = 0x08
	EflgTXWAR  = 0x04
	EflgRXWAR  = 0x02
	EflgEWARN  = 0x01
)

// CANCTRL bits. The operation mode occupies bits 7..5 of both CANCTRL
// (requested) and CANSTAT (current).
const (
	ModeNormal     = 0x00
	ModeSleep      = 0x20
	ModeLoopback   = 0x40
	ModeListenOnly = 0x60
	ModeConfig     = 0x80
	ModeMask       = 0xE0

	AbortTx    = 0x10
	OneShot    = 0x08
	ClkOutEn   = 0x04
	ClkPreMask = 0x03
)

// RX STATUS instruction result.
const (
	RxStatusMask = 0xC0
	RxStatusRXB0 = 0x40
	RxStatusRXB1 = 0x80
	RxStatusBoth = 0xC0
)

// ConfigOnly reports whether addr may only be written in Configuration mode.
func ConfigOnly(addr uint8) bool {
	switch {
	case addr <= RXF2EID0:
		return true
	case addr == TXRTSCTRL:
		return true
	case addr >= RXF3SIDH && addr <= RXF5EID0:
		return true
	case addr >= RXM0SIDH && addr <= CNF1:
		return true
	}
	return false
}
