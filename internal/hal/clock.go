package hal

import (
	"runtime"
	"time"
)

// SystemClock sleeps for millisecond delays and spins for microsecond ones,
// since the scheduler cannot honour sub-millisecond sleeps reliably.
type SystemClock struct{}

func (SystemClock) DelayMilliseconds(n uint) { time.Sleep(time.Duration(n) * time.Millisecond) }

func (SystemClock) DelayMicroseconds(n uint) {
	d := time.Duration(n) * time.Microsecond
	start := time.Now()
	for time.Since(start) < d {
		runtime.Gosched()
	}
}
