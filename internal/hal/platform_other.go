//go:build !linux

package hal

// Host returns the capabilities of the build target. Without spidev and
// GPIO edge support only polled operation through a serial bridge is available.
func Host() Platform { return staticPlatform{name: "generic", slots: 0, hwCS: false} }
