//go:build linux

package hal

// Host returns the capabilities of the build target. Linux hosts reach the
// chip through spidev, which frames chip select in hardware, and can watch
// up to four interrupt lines.
func Host() Platform { return staticPlatform{name: "linux", slots: 4, hwCS: true} }
