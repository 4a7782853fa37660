package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-mcp2515/internal/metrics"
)

// startMetricsLogger logs the counter mirrors every interval; queued reports
// the transmit queue depth.
func startMetricsLogger(ctx context.Context, interval time.Duration, queued func() int, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"ctrl_rx", snap.ControllerRx,
					"ctrl_tx", snap.ControllerTx,
					"ctrl_tx_timeouts", snap.ControllerTimeouts,
					"ctrl_tx_evictions", snap.ControllerEvictions,
					"ctrl_rx_overflows", snap.ControllerOverflows,
					"tec", snap.TEC,
					"rec", snap.REC,
					"socketcan_rx", snap.SocketCANRx,
					"socketcan_tx", snap.SocketCANTx,
					"tcp_rx", snap.TCPRx,
					"tcp_tx", snap.TCPTx,
					"hub_drops", snap.HubDrops,
					"hub_clients", snap.HubClients,
					"tx_queued", queued(),
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
