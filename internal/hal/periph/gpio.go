package periph

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"github.com/kstaniek/go-mcp2515/internal/hal"
	"github.com/kstaniek/go-mcp2515/internal/logging"
)

var (
	// edgePoll bounds each edge wait so Close is noticed and a line left
	// low (missed edge) is serviced again.
	edgePoll = 50 * time.Millisecond
	// maxLevelRounds bounds handler reruns while the line stays low.
	maxLevelRounds = 16
)

// GPIO maps BCM style pin numbers to periph pins named "GPIO<n>". The
// interrupt vector of a pin is its number.
type GPIO struct {
	lookup func(name string) gpio.PinIO

	mu       sync.Mutex
	pins     map[int]gpio.PinIO
	handlers map[int]func()
	watching map[int]bool
	done     chan struct{}
	wg       sync.WaitGroup
	closed   bool
}

// NewGPIO initializes the periph host drivers.
func NewGPIO() (*GPIO, error) {
	if err := hostInit(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	return newGPIO(gpioreg.ByName), nil
}

func newGPIO(lookup func(string) gpio.PinIO) *GPIO {
	return &GPIO{
		lookup:   lookup,
		pins:     make(map[int]gpio.PinIO),
		handlers: make(map[int]func()),
		watching: make(map[int]bool),
		done:     make(chan struct{}),
	}
}

func (g *GPIO) pin(n int) (gpio.PinIO, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.pins[n]; ok {
		return p, nil
	}
	p := g.lookup(fmt.Sprintf("GPIO%d", n))
	if p == nil {
		return nil, fmt.Errorf("gpio %d not found", n)
	}
	g.pins[n] = p
	return p, nil
}

func (g *GPIO) ConfigureOutput(n int) error {
	p, err := g.pin(n)
	if err != nil {
		return err
	}
	return p.Out(gpio.High)
}

func (g *GPIO) SetLevel(n int, l hal.Level) error {
	p, err := g.pin(n)
	if err != nil {
		return err
	}
	return p.Out(gpio.Level(l))
}

func (g *GPIO) InterruptVector(n int) (hal.Vector, bool) {
	if _, err := g.pin(n); err != nil {
		return 0, false
	}
	return hal.Vector(n), true
}

// AttachInterrupt arms falling edge detection on the pin and services it
// from a watcher goroutine. With triggerOnLow the handler is rerun while
// the line reads low, emulating a level triggered input.
func (g *GPIO) AttachInterrupt(v hal.Vector, handler func(), triggerOnLow bool) error {
	n := int(v)
	p, err := g.pin(n)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return fmt.Errorf("gpio %d: closed", n)
	}
	g.handlers[n] = handler
	if g.watching[n] {
		return nil
	}
	if err := p.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return fmt.Errorf("gpio %d edge: %w", n, err)
	}
	g.watching[n] = true
	g.wg.Add(1)
	go g.watch(n, p, triggerOnLow)
	logging.L().Debug("gpio_irq_watch", "pin", p.Name(), "level", triggerOnLow)
	return nil
}

func (g *GPIO) watch(n int, p gpio.PinIO, level bool) {
	defer g.wg.Done()
	for {
		select {
		case <-g.done:
			return
		default:
		}
		edge := p.WaitForEdge(edgePoll)
		if !edge && !(level && p.Read() == gpio.Low) {
			continue
		}
		g.mu.Lock()
		h := g.handlers[n]
		g.mu.Unlock()
		if h == nil {
			continue
		}
		h()
		for i := 0; level && i < maxLevelRounds && p.Read() == gpio.Low; i++ {
			h()
		}
	}
}

// Close stops the watchers and disables edge detection.
func (g *GPIO) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	close(g.done)
	g.mu.Unlock()
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	for n := range g.watching {
		_ = g.pins[n].In(gpio.PullUp, gpio.NoEdge)
	}
	return nil
}
