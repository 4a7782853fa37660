package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-mcp2515/internal/mcp2515"
	"github.com/kstaniek/go-mcp2515/internal/metrics"
)

type healthDriver interface {
	ErrorState() (mcp2515.ErrorState, error)
	ClearOverflow() error
}

// healthMonitor publishes the controller error counters and clears receive
// overflows so the flags report new ones.
type healthMonitor struct {
	dev   healthDriver
	log   *slog.Logger
	state mcp2515.BusState
}

func startHealthPoller(ctx context.Context, dev healthDriver, every time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if every <= 0 {
		return
	}
	m := &healthMonitor{dev: dev, log: l, state: mcp2515.BusActive}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				m.check()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *healthMonitor) check() {
	st, err := m.dev.ErrorState()
	if err != nil {
		metrics.IncError(metrics.ErrSPI)
		m.log.Warn("health_read_error", "error", err)
		return
	}
	bus := st.State()
	metrics.SetControllerErrors(st.TEC, st.REC, int(bus))
	if bus != m.state {
		lvl := slog.LevelWarn
		if bus == mcp2515.BusActive {
			lvl = slog.LevelInfo
		}
		m.log.Log(context.Background(), lvl, "bus_state_change", "from", m.state.String(), "to", bus.String(), "tec", st.TEC, "rec", st.REC)
		m.state = bus
	}
	if st.Overflow() {
		metrics.IncControllerOverflow()
		m.log.Warn("rx_overflow", "eflg", st.Flags)
		if err := m.dev.ClearOverflow(); err != nil {
			m.log.Warn("rx_overflow_clear_failed", "error", err)
		}
	}
}
