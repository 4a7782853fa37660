package hal

// Platform describes what the build target can offer the driver.
type Platform interface {
	Name() string
	// InterruptSlots is how many driver instances may bind interrupt vectors.
	InterruptSlots() int
	// HardwareCS reports whether the SPI peripheral drives chip select itself.
	HardwareCS() bool
}

// SPIModeFor returns the bus mode used with the given chip select style.
// The MCP2515 accepts modes 0 and 3.
func SPIModeFor(hardwareCS bool) SPIMode {
	if hardwareCS {
		return Mode3
	}
	return Mode0
}

type staticPlatform struct {
	name  string
	slots int
	hwCS  bool
}

func (p staticPlatform) Name() string        { return p.name }
func (p staticPlatform) InterruptSlots() int { return p.slots }
func (p staticPlatform) HardwareCS() bool    { return p.hwCS }

// NewPlatform returns a fixed capability set, mainly for tests and simulators.
func NewPlatform(name string, slots int, hardwareCS bool) Platform {
	return staticPlatform{name: name, slots: slots, hwCS: hardwareCS}
}
