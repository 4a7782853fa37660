// Package hal defines the host collaborators the MCP2515 driver needs:
// an SPI transport, GPIO with interrupt vectors, and a delay source.
package hal

// BitOrder selects the SPI bit order.
type BitOrder uint8

const (
	MSBFirst BitOrder = iota
	LSBFirst
)

// SPIMode is the clock polarity/phase combination.
type SPIMode uint8

const (
	Mode0 SPIMode = iota
	Mode1
	Mode2
	Mode3
)

// Settings are applied on every transaction acquire.
type Settings struct {
	SpeedHz uint32
	Order   BitOrder
	Mode    SPIMode
}

// Vector identifies a host interrupt line.
type Vector int

// SPI is the transport collaborator. Begin acquires the bus exclusively
// until End; implementations must keep a preempting interrupt handler from
// interleaving bytes with a transaction already in progress.
type SPI interface {
	Begin(s Settings) error
	End() error
	Transfer(b byte) (byte, error)
	// TransferBlock clocks out tx and stores the received bytes in rx.
	// rx may be nil for write-only transfers.
	TransferBlock(tx, rx []byte) error
	// UsingInterrupt marks the transport as used from the handler bound to v.
	UsingInterrupt(v Vector)
}

// Level is a digital pin level.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// GPIO is the digital I/O collaborator.
type GPIO interface {
	ConfigureOutput(pin int) error
	SetLevel(pin int, l Level) error
	InterruptVector(pin int) (Vector, bool)
	// AttachInterrupt binds handler to v. With triggerOnLow the handler keeps
	// firing while the line is held low.
	AttachInterrupt(v Vector, handler func(), triggerOnLow bool) error
}

// Clock provides busy delays.
type Clock interface {
	DelayMilliseconds(n uint)
	DelayMicroseconds(n uint)
}
