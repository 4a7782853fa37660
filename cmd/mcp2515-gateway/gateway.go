package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-mcp2515/internal/can"
	"github.com/kstaniek/go-mcp2515/internal/hub"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515"
	"github.com/kstaniek/go-mcp2515/internal/metrics"
	"github.com/kstaniek/go-mcp2515/internal/socketcan"
	"github.com/kstaniek/go-mcp2515/internal/txqueue"
)

// openMirror is a test hook.
var openMirror = func(iface string) (socketcan.Dev, error) { return socketcan.Open(iface) }

// gateway ties one controller to the hub: received frames are broadcast,
// frames from clients (and the mirror) go through the transmit queue.
type gateway struct {
	dev    *mcp2515.Device
	link   *link
	tx     *txqueue.Queue
	mirror *socketcan.Mirror
	rx     string
}

func startGateway(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (*gateway, error) {
	lk, err := openLink(cfg)
	if err != nil {
		return nil, fmt.Errorf("open link: %w", err)
	}
	g := &gateway{link: lk}
	fail := func(err error) (*gateway, error) {
		g.Close()
		return nil, err
	}
	if g.dev, err = lk.device(cfg, mcp2515.WithLogger(l)); err != nil {
		return fail(err)
	}
	if err := g.dev.Init(cfg.speed); err != nil {
		return fail(fmt.Errorf("controller init: %w", err))
	}
	if err := g.configure(cfg); err != nil {
		return fail(err)
	}

	g.tx = txqueue.New(ctx, cfg.txQueue, g.dev.Send, txqueue.Hooks{
		OnError: func(fr can.Frame, err error) {
			if errors.Is(err, mcp2515.ErrTransport) {
				metrics.IncError(metrics.ErrSPI)
			}
			l.Debug("tx_failed", "frame", fr.String(), "result", mcp2515.Code(err).String(), "error", err)
		},
		OnDrop: func(can.Frame) { metrics.IncError(metrics.ErrTxOverflow) },
	})

	if cfg.mirrorIf != "" {
		d, err := openMirror(cfg.mirrorIf)
		if err != nil {
			return fail(fmt.Errorf("mirror %s: %w", cfg.mirrorIf, err))
		}
		g.mirror = socketcan.NewMirror(ctx, d, cfg.txQueue)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.mirror.Run(ctx, g.tx.Enqueue); err != nil {
				l.Error("mirror_read_error", "iface", cfg.mirrorIf, "error", err)
			}
		}()
		l.Info("mirror_open", "iface", cfg.mirrorIf)
	}

	deliver := func(fr can.Frame) {
		h.Broadcast(fr)
		if g.mirror != nil {
			_ = g.mirror.Publish(fr)
		}
	}
	if g.rx, err = startReceiver(ctx, g.dev, lk.intPin, cfg.pollEvery, deliver, l, wg); err != nil {
		return fail(fmt.Errorf("receiver: %w", err))
	}
	startHealthPoller(ctx, g.dev, cfg.healthTick, l, wg)
	l.Info("controller_ready", "link", lk.name, "bitrate", cfg.speed.String(), "mode", cfg.opMode.String(), "rx", g.rx)
	return g, nil
}

// configure applies the file's acceptance rules and the operation mode
// once Init has left the controller in Normal mode.
func (g *gateway) configure(cfg *appConfig) error {
	if err := applyAcceptance(g.dev, cfg); err != nil {
		return err
	}
	if cfg.opMode != mcp2515.ModeNormal {
		if err := g.dev.SetMode(cfg.opMode); err != nil {
			return fmt.Errorf("set mode %s: %w", cfg.opMode, err)
		}
	}
	return nil
}

// Send queues a client frame for transmission.
func (g *gateway) Send(fr can.Frame) error { return g.tx.Enqueue(fr) }

func isOverflow(err error) bool { return errors.Is(err, txqueue.ErrOverflow) }

// Close stops the queues, parks the controller in Configuration mode so it
// leaves the bus, and releases the link. Call it after the goroutines
// started by startGateway have returned.
func (g *gateway) Close() {
	if g.tx != nil {
		g.tx.Close()
	}
	if g.mirror != nil {
		_ = g.mirror.Close()
	}
	if g.dev != nil {
		_ = g.dev.SetMode(mcp2515.ModeConfig)
	}
	if g.link != nil && g.link.close != nil {
		_ = g.link.close()
	}
}
