package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-mcp2515/internal/can"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515"
	"github.com/kstaniek/go-mcp2515/internal/metrics"
)

// sleepFn allows tests to intercept poll and backoff sleeps.
var sleepFn = time.Sleep

const (
	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond
	// rxBurst bounds frames drained per poll before sleeping again.
	rxBurst = 8
)

// receiveDriver is what the receive path needs from the controller.
type receiveDriver interface {
	AttachReceiveCallback(pin int, fn mcp2515.ReceiveFunc) error
	Receive() (can.Frame, error)
}

// startReceiver delivers controller frames by interrupt when the link has an
// INT pin and a free slot, and by polling otherwise. It reports the method.
func startReceiver(ctx context.Context, dev receiveDriver, intPin int, poll time.Duration, deliver func(can.Frame), l *slog.Logger, wg *sync.WaitGroup) (string, error) {
	if intPin >= 0 {
		err := dev.AttachReceiveCallback(intPin, func(fr *can.Frame) { deliver(*fr) })
		switch {
		case err == nil:
			l.Info("rx_interrupt", "pin", intPin)
			return "interrupt", nil
		case errors.Is(err, mcp2515.ErrInvalidInterrupt), errors.Is(err, mcp2515.ErrNoInterruptSlots):
			l.Warn("rx_interrupt_unavailable", "pin", intPin, "error", err)
		default:
			return "", err
		}
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("rx_poll_end")
		pollLoop(ctx, dev, poll, deliver, l)
	}()
	l.Info("rx_poll", "interval", poll)
	return "poll", nil
}

// pollLoop drains up to rxBurst frames per round. Transport errors back off
// exponentially between rxBackoffMin and rxBackoffMax.
func pollLoop(ctx context.Context, dev receiveDriver, poll time.Duration, deliver func(can.Frame), l *slog.Logger) {
	backoff := rxBackoffMin
	for ctx.Err() == nil {
		var err error
		for i := 0; i < rxBurst; i++ {
			var fr can.Frame
			if fr, err = dev.Receive(); err != nil {
				break
			}
			deliver(fr)
			backoff = rxBackoffMin
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, mcp2515.ErrNoMessage):
			sleepFn(poll)
			continue
		}
		if ctx.Err() != nil {
			return
		}
		metrics.IncError(metrics.ErrSPI)
		l.Warn("rx_poll_error", "error", err, "backoff", backoff)
		sleepFn(backoff)
		backoff = min(backoff*2, rxBackoffMax)
	}
}
